package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// script returns a generator command that runs body under sh. The action
// name arrives as $1.
func script(t *testing.T, body string, timeout time.Duration) *ExecGenerator {
	return NewExecGenerator([]string{"sh", "-c", body, "generator"}, timeout, zaptest.NewLogger(t))
}

const echoScript = `in=$(cat); printf '{"action":"%s","input":%s}' "$1" "$in"`

func TestGeneratePassesActionAndPayload(t *testing.T) {
	g := script(t, echoScript, 5*time.Second)

	out, err := g.Generate(context.Background(), KindReport, []byte(`{"kpis":{"los_h":26.4}}`))
	require.NoError(t, err)

	var got struct {
		Action string                 `json:"action"`
		Input  map[string]interface{} `json:"input"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "generate_report", got.Action)
	assert.Contains(t, got.Input, "kpis")
}

func TestGenerateLessons(t *testing.T) {
	g := script(t, echoScript, 5*time.Second)

	out, err := g.Generate(context.Background(), KindLessons, []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"generate_lessons","input":{}}`, string(out))
}

func TestGenerateEmptyPayloadSendsEmptyObject(t *testing.T) {
	g := script(t, echoScript, 5*time.Second)

	out, err := g.Generate(context.Background(), KindReport, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"generate_report","input":{}}`, string(out))
}

func TestGenerateUnknownKind(t *testing.T) {
	g := script(t, echoScript, time.Second)

	_, err := g.Generate(context.Background(), "forecast", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestGenerateNotConfigured(t *testing.T) {
	g := NewExecGenerator(nil, time.Second, nil)

	_, err := g.Generate(context.Background(), KindReport, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerateNonJSONOutput(t *testing.T) {
	g := script(t, `echo "Traceback (most recent call last):"`, 5*time.Second)

	_, err := g.Generate(context.Background(), KindReport, nil)

	var outErr *OutputError
	require.True(t, errors.As(err, &outErr), "got %v", err)
	assert.Contains(t, outErr.Raw, "Traceback")
}

func TestGenerateFailingExitWithJSONOutput(t *testing.T) {
	g := script(t, `echo '{"error":"no kpis"}'; exit 3`, 5*time.Second)

	out, err := g.Generate(context.Background(), KindReport, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"no kpis"}`, string(out))
}

func TestGenerateMissingBinary(t *testing.T) {
	g := NewExecGenerator([]string{"/nonexistent/report-generator"}, time.Second, nil)

	_, err := g.Generate(context.Background(), KindReport, nil)
	require.Error(t, err)
	var outErr *OutputError
	assert.False(t, errors.As(err, &outErr))
}

func TestGenerateTimeout(t *testing.T) {
	g := script(t, `exec sleep 5`, 100*time.Millisecond)

	start := time.Now()
	_, err := g.Generate(context.Background(), KindReport, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}
