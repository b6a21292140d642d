// Package report runs the external report generator. The generator is an
// opaque program that reads a JSON document on stdin and writes a JSON
// document to stdout.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Report kinds.
const (
	KindReport  = "report"
	KindLessons = "lessons"
)

// DefaultTimeout bounds one generator run.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnknownKind is returned for a kind other than KindReport or
	// KindLessons.
	ErrUnknownKind = errors.New("unknown report kind")

	// ErrTimeout is returned when the generator does not finish in time.
	ErrTimeout = errors.New("report generator timed out")

	// ErrNotConfigured is returned when no generator command is set.
	ErrNotConfigured = errors.New("report generator not configured")
)

// OutputError is returned when the generator exits but its output is not
// JSON.
type OutputError struct {
	Raw string
}

func (e *OutputError) Error() string {
	return "report generator returned invalid output (not JSON)"
}

// Generator produces a report document for kind from payload.
type Generator interface {
	Generate(ctx context.Context, kind string, payload []byte) ([]byte, error)
}

var actions = map[string]string{
	KindReport:  "generate_report",
	KindLessons: "generate_lessons",
}

// ExecGenerator runs Command with the action name appended as the final
// argument.
type ExecGenerator struct {
	Command []string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewExecGenerator creates a generator for command.
func NewExecGenerator(command []string, timeout time.Duration, logger *zap.Logger) *ExecGenerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecGenerator{Command: command, Timeout: timeout, Logger: logger}
}

// Generate runs the generator. An empty payload is sent as {}. Stdout and
// stderr are combined, and the result must be valid JSON.
func (g *ExecGenerator) Generate(ctx context.Context, kind string, payload []byte) ([]byte, error) {
	action, ok := actions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(g.Command) == 0 {
		return nil, ErrNotConfigured
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), g.Command[1:]...), action)
	cmd := exec.CommandContext(ctx, g.Command[0], args...)
	cmd.Stdin = bytes.NewReader(payload)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	if err != nil {
		g.Logger.Warn("report generator failed",
			zap.String("kind", kind),
			zap.Error(err),
			zap.ByteString("output", out.Bytes()))
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run report generator: %w", err)
		}
		// A failing generator that still printed JSON is reported as-is.
	}

	result := bytes.TrimSpace(out.Bytes())
	if !json.Valid(result) {
		return nil, &OutputError{Raw: out.String()}
	}
	g.Logger.Debug("report generated", zap.String("kind", kind), zap.Duration("took", time.Since(start)))
	return result, nil
}
