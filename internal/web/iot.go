package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/ingest"
	"github.com/sweeney/ward-monitor/internal/store"
)

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, ingest.ReasonMalformedInput)
		return
	}

	rd, err := s.deps.Ingester.Ingest(r.Context(), body)
	if err != nil {
		reason := ingest.Reason(err)
		if reason == ingest.ReasonStorageFailure {
			s.logger.Error("ingest storage failure", zap.Error(err))
			writeError(w, http.StatusInternalServerError, reason)
			return
		}
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	s.logger.Debug("reading accepted",
		zap.String("device_id", rd.DeviceID),
		zap.Time("timestamp", rd.Timestamp))
	writeJSON(w, http.StatusOK, OKJSON{Status: "ok"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rd, err := s.deps.Readings.GetLatest(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no data yet")
		return
	}
	if err != nil {
		s.logger.Error("read latest reading", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_failure")
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.deps.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, s.deps.MaxHistoryLimit)
	}

	history, err := s.deps.Readings.GetHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_failure")
		return
	}
	writeJSON(w, http.StatusOK, history)
}
