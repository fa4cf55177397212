package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"exovision/db"
	"exovision/ml"
	"exovision/monitoring"
	"exovision/pipeline"
	"exovision/store"
)

const (
	msgInvalidFileType = "Invalid file type. Please upload a CSV file."
	msgModelNotFound   = "Model not found"
	multipartMemory    = 32 << 20
)

// requestError carries the status a handler should answer with.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(status int, format string, args ...any) *requestError {
	return &requestError{status: status, msg: fmt.Sprintf(format, args...)}
}

type rowPrediction struct {
	Row    int      `json:"row"`
	Values []string `json:"-"`
	ml.Disposition
}

type batchResult struct {
	Model              string          `json:"model"`
	Columns            []string        `json:"columns"`
	Predictions        []rowPrediction `json:"predictions"`
	CountConfirmed     int             `json:"count_confirmed"`
	CountCandidate     int             `json:"count_candidate"`
	CountFalsePositive int             `json:"count_false_positive"`
	TotalCount         int             `json:"total_count"`
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func (s *Server) handleManualPredict(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		monitoring.RecordPredictionError("bad_request")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	model, _ := body["model"].(string)
	req := manualRequest{Model: strings.TrimSpace(model)}
	if err := validate(req); err != nil {
		monitoring.RecordPredictionError("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	predictor, err := s.deps.Store.Get(req.Model)
	if err != nil {
		monitoring.RecordPredictionError("model_not_found")
		writeError(w, http.StatusNotFound, msgModelNotFound)
		return
	}

	vector, missing, invalid := featureValues(body, predictor.Features())
	if len(missing) > 0 {
		monitoring.RecordPredictionError("missing_feature")
		writeError(w, http.StatusBadRequest, "Missing required features: "+strings.Join(missing, ", "))
		return
	}
	if len(invalid) > 0 {
		monitoring.RecordPredictionError("invalid_feature")
		writeError(w, http.StatusUnprocessableEntity, "Invalid feature values: "+strings.Join(invalid, ", "))
		return
	}

	disposition, err := s.deps.Store.Predict(req.Model, vector)
	if err != nil {
		status, msg := predictStatus(err)
		monitoring.RecordPredictionError("predict")
		writeError(w, status, msg)
		return
	}

	s.recordPredictions(req.Model, "manual", []ml.Disposition{disposition})
	writeJSON(w, http.StatusOK, map[string]any{
		"prediction": disposition.Prediction,
		"confidence": disposition.Confidence,
		"model":      req.Model,
	})
}

func predictStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrModelNotFound):
		return http.StatusNotFound, msgModelNotFound
	case errors.Is(err, ml.ErrFeatureCount), errors.Is(err, ml.ErrInvalidFeature):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "prediction failed"
	}
}

// handleCSVPredict answers the upload form with an HTML result table, or
// JSON when the client asks for it. Errors use {"message": ...}.
func (s *Server) handleCSVPredict(w http.ResponseWriter, r *http.Request) {
	result, rerr := s.predictMultipart(r, r.FormValue)
	if rerr != nil {
		writeMessage(w, rerr.status, rerr.msg)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, result)
		return
	}
	s.render(w, http.StatusOK, "results.html", result)
}

// handleAPICSVPredict takes the model from the query string and returns the
// disposition of every row as a plain JSON list of strings.
func (s *Server) handleAPICSVPredict(w http.ResponseWriter, r *http.Request) {
	result, rerr := s.predictMultipart(r, r.URL.Query().Get)
	if rerr != nil {
		writeError(w, rerr.status, rerr.msg)
		return
	}
	dispositions := make([]string, len(result.Predictions))
	for i, row := range result.Predictions {
		dispositions[i] = row.Prediction
	}
	writeJSON(w, http.StatusOK, dispositions)
}

func (s *Server) predictMultipart(r *http.Request, modelValue func(string) string) (*batchResult, *requestError) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, badRequest(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return nil, badRequest(http.StatusBadRequest, "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	form := csvForm{Model: strings.TrimSpace(modelValue("model"))}
	if err := validate(form); err != nil {
		return nil, badRequest(http.StatusBadRequest, "%s", err.Error())
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest(http.StatusBadRequest, "No file uploaded")
	}
	defer file.Close()

	result, rerr := s.predictUpload(form.Model, file, header)
	if rerr != nil {
		monitoring.RecordPredictionError("batch")
		return nil, rerr
	}
	return result, nil
}

func (s *Server) predictUpload(model string, file multipart.File, header *multipart.FileHeader) (*batchResult, *requestError) {
	if !pipeline.IsCSV(header.Filename) {
		return nil, badRequest(http.StatusBadRequest, msgInvalidFileType)
	}
	predictor, err := s.deps.Store.Get(model)
	if err != nil {
		return nil, badRequest(http.StatusNotFound, msgModelNotFound)
	}

	ds, err := ml.ReadCSV(file, header.Filename)
	if err != nil {
		return nil, badRequest(http.StatusBadRequest, "Could not parse CSV: %v", err)
	}
	if ds.Len() == 0 {
		return nil, badRequest(http.StatusBadRequest, "The CSV file has no data rows.")
	}
	if ds.Len() > s.config.MaxBatchRows {
		return nil, badRequest(http.StatusRequestEntityTooLarge,
			"File too large. Please upload a CSV file with at most %d rows.", s.config.MaxBatchRows)
	}

	features := predictor.Features()
	if missing := ds.Missing(features); len(missing) > 0 {
		return nil, badRequest(http.StatusUnprocessableEntity, "Missing required features: %s", strings.Join(missing, ", "))
	}

	vectors := make([][]float64, ds.Len())
	var badRows []string
	for i := range vectors {
		vector, invalid := ds.Record(i, features)
		if len(invalid) > 0 {
			badRows = append(badRows, strconv.Itoa(i+1))
			continue
		}
		vectors[i] = vector
	}
	if len(badRows) > 0 {
		return nil, badRequest(http.StatusUnprocessableEntity,
			"Rows with missing or non-numeric feature values: %s", strings.Join(badRows, ", "))
	}

	result := &batchResult{
		Model:       model,
		Columns:     ds.Columns,
		Predictions: make([]rowPrediction, 0, len(vectors)),
		TotalCount:  len(vectors),
	}
	dispositions := make([]ml.Disposition, 0, len(vectors))
	for i, vector := range vectors {
		d, err := s.deps.Store.Predict(model, vector)
		if err != nil {
			status, msg := predictStatus(err)
			return nil, badRequest(status, "row %d: %s", i+1, msg)
		}
		switch d.Prediction {
		case ml.DispositionConfirmed:
			result.CountConfirmed++
		case ml.DispositionCandidate:
			result.CountCandidate++
		default:
			result.CountFalsePositive++
		}
		result.Predictions = append(result.Predictions, rowPrediction{Row: i + 1, Values: ds.Rows[i], Disposition: d})
		dispositions = append(dispositions, d)
	}

	s.recordPredictions(model, "csv", dispositions)
	return result, nil
}

func (s *Server) recordPredictions(model, source string, dispositions []ml.Disposition) {
	for _, d := range dispositions {
		monitoring.RecordPrediction(model, d.Prediction, source)
	}
	if !db.Enabled() {
		return
	}
	if err := db.SavePredictions(model, source, dispositions); err != nil {
		s.log.Warn("failed to record predictions", zap.String("model", model), zap.Error(err))
	}
}
