package http

import (
	"net/http"
	"strconv"
	"time"

	"exovision/db"
	"exovision/ml"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Store.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	predictor, err := s.deps.Store.Get(name)
	if err != nil {
		writeMessage(w, http.StatusNotFound, msgModelNotFound)
		return
	}
	artifact := predictor.Artifact()
	target := artifact.Metadata.Target
	if target == "" {
		target = ml.TargetColumn
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_name":  name,
		"features":    predictor.Features(),
		"target":      target,
		"description": artifact.Metadata.Description,
		"metadata":    artifact.Metadata,
	})
}

func (s *Server) handleConfusionMatrix(w http.ResponseWriter, r *http.Request) {
	predictor, err := s.deps.Store.Get(r.PathValue("name"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, msgModelNotFound)
		return
	}
	matrix := predictor.Artifact().ConfusionMatrix
	if len(matrix) == 0 {
		matrix = [][]int{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	}
	writeJSON(w, http.StatusOK, map[string]any{"confusion_matrix": matrix})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":     "ok",
		"models":     s.deps.Store.Len(),
		"started_at": s.started.UTC().Format(time.RFC3339),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"training":   s.deps.Trainer.Busy(),
		"hub":        s.deps.Hub.GetStats(),
		"datasets":   s.deps.Datasets.GetStats(),
	}
	if s.deps.Scheduler != nil {
		health["scheduler"] = s.deps.Scheduler.GetStats()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	q := historyQuery{Limit: 20}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = limit
	}
	if err := validate(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !db.Enabled() {
		writeJSON(w, http.StatusOK, []db.TrainingLog{})
		return
	}
	history, err := db.LoadTrainingLog(q.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load training history")
		return
	}
	if history == nil {
		history = []db.TrainingLog{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handlePredictionStats(w http.ResponseWriter, r *http.Request) {
	if !db.Enabled() {
		writeJSON(w, http.StatusOK, []db.PredictionStat{})
		return
	}
	stats, err := db.PredictionStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load prediction stats")
		return
	}
	if stats == nil {
		stats = []db.PredictionStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}
