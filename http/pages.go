package http

import (
	"bytes"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"exovision/ml"
)

var templateFuncs = template.FuncMap{
	"percent": formatPercent,
}

type pageData struct {
	Title            string
	Models           []string
	RequiredFeatures string
	Features         []string
	MaxRows          int
}

func (s *Server) pageData(title string) pageData {
	return pageData{
		Title:            title,
		Models:           s.deps.Store.Names(),
		RequiredFeatures: ml.FeatureNamesString(),
		Features:         ml.FeatureNames(),
		MaxRows:          s.config.MaxBatchRows,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", s.pageData("ExoVision"))
}

func (s *Server) staticPage(name, title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.render(w, http.StatusOK, name, s.pageData(title))
	})
}

// render executes into a buffer first so a template error still yields a
// clean 500.
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
