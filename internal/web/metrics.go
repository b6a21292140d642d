package web

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// metricHandler adapts one dashboard read into a handler. A nil Metrics or
// an unreachable source is reported as an error response; neither affects
// any other route.
func (s *Server) metricHandler(name string, read func(ctx context.Context, m Metrics) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			writeError(w, http.StatusServiceUnavailable, "metrics source not configured")
			return
		}
		v, err := read(r.Context(), s.deps.Metrics)
		if err != nil {
			s.logger.Error("metrics read failed", zap.String("metric", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "metrics source unavailable")
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	s.metricHandler("velocity", func(ctx context.Context, m Metrics) (interface{}, error) {
		v, err := m.Velocity(ctx)
		return map[string]int{"velocity": v}, err
	})(w, r)
}

// ratioHandler answers 204 when there are no financial rows at all, and
// {"<name>": null} when the denominator is zero.
func (s *Server) ratioHandler(name string, read func(ctx context.Context, m Metrics) (*float64, bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			writeError(w, http.StatusServiceUnavailable, "metrics source not configured")
			return
		}
		v, ok, err := read(r.Context(), s.deps.Metrics)
		if err != nil {
			s.logger.Error("metrics read failed", zap.String("metric", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "metrics source unavailable")
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]*float64{name: v})
	}
}

func (s *Server) handleCPI(w http.ResponseWriter, r *http.Request) {
	s.ratioHandler("cpi", func(ctx context.Context, m Metrics) (*float64, bool, error) {
		return m.CPI(ctx)
	})(w, r)
}

func (s *Server) handleSPI(w http.ResponseWriter, r *http.Request) {
	s.ratioHandler("spi", func(ctx context.Context, m Metrics) (*float64, bool, error) {
		return m.SPI(ctx)
	})(w, r)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.metricHandler("summary", func(ctx context.Context, m Metrics) (interface{}, error) {
		return m.Summary(ctx)
	})(w, r)
}

func (s *Server) handleBurndown(w http.ResponseWriter, r *http.Request) {
	s.metricHandler("burndown", func(ctx context.Context, m Metrics) (interface{}, error) {
		return m.Burndown(ctx)
	})(w, r)
}

func (s *Server) handleAlignedBurndown(w http.ResponseWriter, r *http.Request) {
	s.metricHandler("burndown_aligned", func(ctx context.Context, m Metrics) (interface{}, error) {
		return m.AlignedBurndown(ctx)
	})(w, r)
}

func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	s.metricHandler("backlog", func(ctx context.Context, m Metrics) (interface{}, error) {
		return m.Backlog(ctx)
	})(w, r)
}

func (s *Server) handleRisks(w http.ResponseWriter, r *http.Request) {
	s.metricHandler("risks", func(ctx context.Context, m Metrics) (interface{}, error) {
		return m.Risks(ctx)
	})(w, r)
}
