// Package log provides progress reporting for long backtest runs.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// ProgressIndicator reports how many pairs of a run have finished. On a
// terminal it redraws a single bar line; anywhere else it emits one structured
// log line per update.
type ProgressIndicator struct {
	mu        sync.Mutex
	name      string
	total     int
	current   int
	startTime time.Time
	out       io.Writer
	tty       bool
	frame     int
	config    ProgressConfig
	now       func() time.Time
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	ShowSpinner  bool
	ShowProgress bool
	ShowETA      bool
	SpinnerStyle SpinnerStyle
}

// SpinnerStyle defines different spinner animations
type SpinnerStyle string

const (
	SpinnerDots SpinnerStyle = "dots"
	SpinnerLine SpinnerStyle = "line"
)

func (s SpinnerStyle) frames() []string {
	if s == SpinnerLine {
		return []string{"-", "\\", "|", "/"}
	}
	return []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewProgressIndicator creates a progress indicator writing to stderr
func NewProgressIndicator(name string, total int, config ProgressConfig) *ProgressIndicator {
	return NewProgressIndicatorTo(os.Stderr, name, total, config)
}

// NewProgressIndicatorTo creates a progress indicator writing to out
func NewProgressIndicatorTo(out io.Writer, name string, total int, config ProgressConfig) *ProgressIndicator {
	return &ProgressIndicator{
		name:      name,
		total:     total,
		startTime: time.Now(),
		out:       out,
		tty:       IsTerminal(out),
		config:    config,
		now:       time.Now,
	}
}

// Current returns how many steps have completed
func (pi *ProgressIndicator) Current() int {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.current
}

// Advance completes one step and shows message next to the bar. Safe for
// concurrent use by the pair workers.
func (pi *ProgressIndicator) Advance(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current++
	pi.frame++
	pi.render(message)
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	if pi.tty {
		fmt.Fprintf(pi.out, "\r\033[K✅ %s: %s (%v)\n", pi.name, message, duration)
		return
	}
	log.Info().Str("task", pi.name).Int("done", pi.current).Dur("duration", duration).Msg(message)
}

// Fail marks the progress as failed
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	if pi.tty {
		fmt.Fprintf(pi.out, "\r\033[K❌ %s failed: %s (%v)\n", pi.name, reason, duration)
		return
	}
	log.Error().Str("task", pi.name).Int("done", pi.current).Str("reason", reason).Msg("Task failed")
}

func (pi *ProgressIndicator) render(message string) {
	if !pi.tty {
		event := log.Info().Str("task", pi.name).Int("done", pi.current).Int("total", pi.total)
		if eta, ok := pi.eta(); ok && pi.config.ShowETA {
			event = event.Dur("eta", eta)
		}
		event.Msg(message)
		return
	}

	fmt.Fprint(pi.out, pi.line(message))
}

// line renders the bar without touching the writer
func (pi *ProgressIndicator) line(message string) string {
	var output strings.Builder
	output.WriteString("\r\033[K")

	if pi.config.ShowSpinner {
		frames := pi.config.SpinnerStyle.frames()
		output.WriteString(frames[pi.frame%len(frames)])
		output.WriteString(" ")
	}

	output.WriteString(pi.name)

	if pi.config.ShowProgress && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := barWidth * pi.current / pi.total
		if filled > barWidth {
			filled = barWidth
		}

		output.WriteString(" [")
		output.WriteString(strings.Repeat("█", filled))
		output.WriteString(strings.Repeat("░", barWidth-filled))
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, percentage))
	} else if pi.total > 0 {
		output.WriteString(fmt.Sprintf(" (%d/%d)", pi.current, pi.total))
	}

	if eta, ok := pi.eta(); ok && pi.config.ShowETA {
		output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}

	return output.String()
}

func (pi *ProgressIndicator) eta() (time.Duration, bool) {
	if pi.total <= 0 || pi.current <= 0 || pi.current >= pi.total {
		return 0, false
	}
	elapsed := pi.now().Sub(pi.startTime)
	perStep := elapsed / time.Duration(pi.current)
	return perStep * time.Duration(pi.total-pi.current), true
}

// StepLogger logs the phases of a command and how long each one took
type StepLogger struct {
	name      string
	steps     []string
	current   int
	started   time.Time
	stepStart time.Time
	durations []time.Duration
}

// NewStepLogger creates a new step logger for the given phases
func NewStepLogger(name string, steps []string) *StepLogger {
	now := time.Now()
	return &StepLogger{
		name:      name,
		steps:     steps,
		current:   -1,
		started:   now,
		stepStart: now,
		durations: make([]time.Duration, len(steps)),
	}
}

// StartStep closes the running step and begins stepName
func (sl *StepLogger) StartStep(stepName string) {
	index := -1
	for i, step := range sl.steps {
		if step == stepName {
			index = i
			break
		}
	}
	if index == -1 {
		log.Warn().Str("step", stepName).Msg("Unknown step")
		return
	}

	sl.CompleteStep()
	sl.current = index
	sl.stepStart = time.Now()

	log.Info().
		Str("step", stepName).
		Int("step_number", index+1).
		Int("total_steps", len(sl.steps)).
		Msg("Starting step")
}

// CompleteStep records the duration of the running step
func (sl *StepLogger) CompleteStep() {
	if sl.current < 0 || sl.durations[sl.current] != 0 {
		return
	}

	d := time.Since(sl.stepStart)
	if d == 0 {
		d = time.Nanosecond
	}
	sl.durations[sl.current] = d

	log.Debug().
		Str("step", sl.steps[sl.current]).
		Dur("duration", d).
		Msg("Step completed")
}

// Durations returns the time spent in each step; unstarted steps are zero
func (sl *StepLogger) Durations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(sl.steps))
	for i, step := range sl.steps {
		out[step] = sl.durations[i]
	}
	return out
}

// Finish completes the running step and logs the timing summary
func (sl *StepLogger) Finish() {
	sl.CompleteStep()
	total := time.Since(sl.started)

	log.Info().Str("task", sl.name).Dur("total_duration", total).Msg("Completed")
	for i, step := range sl.steps {
		if sl.durations[i] == 0 {
			continue
		}
		log.Debug().
			Str("step", step).
			Dur("duration", sl.durations[i]).
			Float64("percentage", float64(sl.durations[i])/float64(total)*100).
			Msgf("  %d. %s", i+1, step)
	}
}

// Fail logs which step the command failed in
func (sl *StepLogger) Fail(reason string) {
	step := "unknown"
	if sl.current >= 0 {
		step = sl.steps[sl.current]
	}

	log.Error().
		Str("task", sl.name).
		Str("failed_step", step).
		Int("total_steps", len(sl.steps)).
		Str("reason", reason).
		Msg("Failed")
}

// DefaultProgressConfig returns default progress indicator configuration
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		ShowSpinner:  true,
		ShowProgress: true,
		ShowETA:      true,
		SpinnerStyle: SpinnerDots,
	}
}

// QuietProgressConfig returns minimal progress indicator configuration
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{SpinnerStyle: SpinnerDots}
}
