package rewrite

import (
	"context"
	"log/slog"
	"time"
)

// Outcome labels what Rewrite did with a body.
type Outcome string

const (
	OutcomeNotJSON     Outcome = "not_json"
	OutcomeInvalidJSON Outcome = "invalid_json"
	OutcomeNoFiles     Outcome = "no_files"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeRewritten   Outcome = "rewritten"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeFailed      Outcome = "failed"
)

// Summary describes one call to Rewrite.
type Summary struct {
	Outcome   Outcome
	Files     int
	Converted int
	Failed    int
	Duration  time.Duration
}

// Reporter receives rewrite summaries.
type Reporter interface {
	ReportRewrite(ctx context.Context, s Summary)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, s Summary)

// ReportRewrite calls f.
func (f ReporterFunc) ReportRewrite(ctx context.Context, s Summary) { f(ctx, s) }

// NopReporter discards all summaries.
var NopReporter Reporter = ReporterFunc(func(context.Context, Summary) {})

// MultiReporter fans each summary out to every reporter in order.
type MultiReporter []Reporter

// ReportRewrite forwards s to each reporter.
func (m MultiReporter) ReportRewrite(ctx context.Context, s Summary) {
	for _, r := range m {
		r.ReportRewrite(ctx, s)
	}
}

// LogReporter writes rewrite summaries to a slog.Logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "rewriter")}
}

// ReportRewrite logs rewritten bodies at info and everything else at debug.
func (r *LogReporter) ReportRewrite(ctx context.Context, s Summary) {
	level := slog.LevelDebug
	msg := "response passed through"
	switch s.Outcome {
	case OutcomeRewritten:
		level, msg = slog.LevelInfo, "response rewritten"
	case OutcomeFailed:
		level, msg = slog.LevelWarn, "response rewrite failed, returning original"
	}

	r.logger.Log(ctx, level, msg,
		"outcome", string(s.Outcome),
		"files", s.Files,
		"converted", s.Converted,
		"failed", s.Failed,
		"duration_ms", s.Duration.Milliseconds(),
	)
}
