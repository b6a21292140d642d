package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/report"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "report generator not configured")
		return
	}
	kind := chi.URLParam(r, "kind")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	out, err := s.deps.Reports.Generate(r.Context(), kind, payload)
	if err != nil {
		var outErr *report.OutputError
		switch {
		case errors.Is(err, report.ErrUnknownKind):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, report.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, report.ErrTimeout):
			s.logger.Warn("report generator timed out", zap.String("kind", kind))
			writeError(w, http.StatusGatewayTimeout, err.Error())
		case errors.As(err, &outErr):
			s.logger.Warn("report generator returned invalid output", zap.String("kind", kind))
			writeJSON(w, http.StatusBadGateway, ErrorJSON{Status: "error", Message: outErr.Error(), Raw: outErr.Raw})
		default:
			s.logger.Error("report generator failed", zap.String("kind", kind), zap.Error(err))
			writeError(w, http.StatusBadGateway, "report generator failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, json.RawMessage(out))
}
