// Package ingest accepts raw telemetry payloads, normalizes them into
// readings and commits them to the storage backend.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/reading"
	"github.com/sweeney/ward-monitor/internal/store"
)

// Listener is told about every accepted reading.
type Listener interface {
	Accepted(r reading.Reading)
}

// RejectListener is told about every rejected payload.
type RejectListener interface {
	Rejected(reason string, err error)
}

// Service is the ingestion entry point shared by every transport.
// It is safe for concurrent use.
type Service struct {
	store     store.Store
	logger    *zap.Logger
	now       func() time.Time
	listeners []any
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithListener registers l for notifications. l should implement Listener,
// RejectListener or both.
func WithListener(l any) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// NewService creates a Service writing to st.
func NewService(st store.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: st, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates raw, stamps it and commits it to the latest slot and the
// history log. Both writes are always attempted; if either fails the result
// is a *StorageFailure. There is no retry.
func (s *Service) Ingest(ctx context.Context, raw []byte) (reading.Reading, error) {
	r, err := s.parse(raw)
	if err != nil {
		s.reject(err)
		return reading.Reading{}, err
	}

	putErr := s.store.PutLatest(ctx, r)
	appendErr := s.store.AppendHistory(ctx, r)
	if err := errors.Join(putErr, appendErr); err != nil {
		sf := &StorageFailure{Err: err}
		s.logger.Error("storing reading failed", zap.Error(err))
		s.reject(sf)
		return reading.Reading{}, sf
	}

	s.logger.Debug("reading accepted",
		zap.String("device_id", r.DeviceID),
		zap.Time("timestamp", r.Timestamp))
	for _, l := range s.listeners {
		if al, ok := l.(Listener); ok {
			al.Accepted(r)
		}
	}
	return r, nil
}

func (s *Service) parse(raw []byte) (reading.Reading, error) {
	if len(raw) == 0 {
		return reading.Reading{}, ErrEmptyPayload
	}
	fields, err := reading.Decode(raw)
	if err != nil {
		return reading.Reading{}, &InputError{Kind: ReasonMalformedInput, Err: err}
	}

	r, ok := reading.FromMap(fields)
	now := s.now().UTC()
	if !ok {
		r.Timestamp = now
	}
	received := now.Truncate(time.Second)
	r.ReceivedAt = &received
	return r, nil
}

func (s *Service) reject(err error) {
	reason := Reason(err)
	for _, l := range s.listeners {
		if rl, ok := l.(RejectListener); ok {
			rl.Rejected(reason, err)
		}
	}
}
