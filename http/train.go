package http

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exovision/ml"
	"exovision/pipeline"
	"exovision/training"
)

const sseKeepAlive = 15 * time.Second

// handleTrain stores the uploaded CSVs in the dataset directory, trains a
// model on them and saves it. The request blocks until training finishes;
// progress is streamed separately on /train and /ws/train.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	// The runner is held before any upload is written to the dataset dir.
	slot, err := s.deps.Trainer.Reserve()
	if err != nil {
		writeMessage(w, http.StatusConflict, err.Error())
		return
	}
	defer slot.Release()

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := slices.Concat(r.MultipartForm.File["files[]"], r.MultipartForm.File["files"])
	form := trainForm{ModelName: strings.TrimSpace(r.FormValue("model_name")), Files: len(files)}
	if err := validate(form); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, fh := range files {
		if !pipeline.IsCSV(fh.Filename) {
			writeMessage(w, http.StatusUnprocessableEntity, "Only CSV files are allowed.")
			return
		}
	}

	datasets := make([]*ml.Dataset, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		ds, path, err := s.ingest(fh)
		if err != nil {
			writeMessage(w, ingestStatus(err), err.Error())
			return
		}
		datasets = append(datasets, ds)
		paths = append(paths, path)
	}

	jobID := uuid.NewString()
	s.log.Info("training requested",
		zap.String("job_id", jobID),
		zap.String("model", form.ModelName),
		zap.Strings("datasets", paths),
		zap.String("request_id", GetRequestID(r.Context())))

	// Training outlives a client that disconnects mid-run.
	ctx := context.WithoutCancel(r.Context())
	result, err := slot.Run(ctx, training.Job{
		ID:       jobID,
		Model:    form.ModelName,
		Trigger:  "upload",
		Datasets: datasets,
	})
	if err != nil {
		writeMessage(w, trainStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"model":             form.ModelName,
		"job_id":            jobID,
		"balanced_accuracy": result.Artifact.Metadata.BalancedAccuracy,
		"best_params":       result.Artifact.Metadata.BestParams,
		"duration":          result.Duration.String(),
	})
}

func (s *Server) ingest(fh *multipart.FileHeader) (*ml.Dataset, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return s.deps.Datasets.Ingest(fh.Filename, f)
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotCSV):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func trainStatus(err error) int {
	switch {
	case errors.Is(err, training.ErrTrainingBusy):
		return http.StatusConflict
	case errors.Is(err, training.ErrSaveFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// handleTrainEvents streams hub messages as Server-Sent Events.
func (s *Server) handleTrainEvents(w http.ResponseWriter, r *http.Request) {
	client, ok := s.deps.Hub.Subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "progress stream unavailable")
		return
	}
	defer s.deps.Hub.Unsubscribe(client)

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.log.Warn("streaming unsupported", zap.Error(err))
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", msg); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
