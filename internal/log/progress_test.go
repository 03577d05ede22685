package log

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = previous })
	return &buf
}

func TestProgressIndicator_NonTerminalLogs(t *testing.T) {
	logs := captureLogs(t)
	var out bytes.Buffer

	pi := NewProgressIndicatorTo(&out, "pairs", 4, DefaultProgressConfig())
	assert.False(t, pi.tty)

	pi.Advance("Pair 0 done")
	pi.Finish("all pairs done")

	assert.Empty(t, out.String())
	assert.Contains(t, logs.String(), `"message":"Pair 0 done"`)
	assert.Contains(t, logs.String(), `"done":1`)
	assert.Contains(t, logs.String(), `"total":4`)
	assert.Contains(t, logs.String(), "all pairs done")
}

func TestProgressIndicator_TerminalBar(t *testing.T) {
	var out bytes.Buffer
	pi := NewProgressIndicatorTo(&out, "pairs", 4, ProgressConfig{ShowProgress: true})
	pi.tty = true

	pi.Advance("Pair 0")
	pi.Advance("Pair 1")

	assert.Contains(t, out.String(), "pairs [██████████░░░░░░░░░░] 2/4 (50.0%) - Pair 1")

	pi.Fail("feed down")
	assert.Contains(t, out.String(), "pairs failed: feed down")
}

func TestProgressIndicator_ETA(t *testing.T) {
	pi := NewProgressIndicatorTo(&bytes.Buffer{}, "pairs", 4, DefaultProgressConfig())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pi.startTime = start
	pi.now = func() time.Time { return start.Add(10 * time.Second) }

	_, ok := pi.eta()
	assert.False(t, ok)

	pi.current = 1
	eta, ok := pi.eta()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, eta)

	pi.current = 4
	_, ok = pi.eta()
	assert.False(t, ok)
}

func TestProgressIndicator_ConcurrentAdvance(t *testing.T) {
	captureLogs(t)
	pi := NewProgressIndicatorTo(&bytes.Buffer{}, "pairs", 50, QuietProgressConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pi.Advance("")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, pi.Current())
}

func TestStepLogger(t *testing.T) {
	logs := captureLogs(t)

	sl := NewStepLogger("backtest", []string{"load_pairs", "run", "persist"})
	sl.StartStep("load_pairs")
	sl.StartStep("run")
	sl.StartStep("bogus")
	sl.Finish()

	durations := sl.Durations()
	assert.Positive(t, durations["load_pairs"])
	assert.Positive(t, durations["run"])
	assert.Zero(t, durations["persist"])
	assert.Contains(t, logs.String(), "Unknown step")

	sl.Fail("boom")
	assert.Contains(t, logs.String(), `"failed_step":"run"`)
}
