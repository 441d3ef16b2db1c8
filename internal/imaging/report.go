package imaging

import (
	"context"
	"log/slog"
	"time"
)

// Event describes one call to Transcode.
type Event struct {
	Outcome     Outcome
	Stage       Stage
	Format      string // registered decoder name, e.g. "png"
	ColorModel  string
	Width       int
	Height      int
	InputBytes  int // decoded source size
	OutputBytes int // encoded JPEG size
	Duration    time.Duration
	Err         error
}

// Reporter receives transcode events. Implementations must be safe for
// concurrent use.
type Reporter interface {
	ReportTranscode(ctx context.Context, ev Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, ev Event)

// ReportTranscode calls f.
func (f ReporterFunc) ReportTranscode(ctx context.Context, ev Event) { f(ctx, ev) }

// NopReporter discards all events.
var NopReporter Reporter = ReporterFunc(func(context.Context, Event) {})

// MultiReporter fans each event out to every reporter in order.
type MultiReporter []Reporter

// ReportTranscode forwards ev to each reporter.
func (m MultiReporter) ReportTranscode(ctx context.Context, ev Event) {
	for _, r := range m {
		r.ReportTranscode(ctx, ev)
	}
}

// LogReporter writes transcode events to a slog.Logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "transcoder")}
}

// ReportTranscode logs conversions at info, failures at warn and skipped work
// at debug.
func (r *LogReporter) ReportTranscode(ctx context.Context, ev Event) {
	switch ev.Outcome {
	case Converted:
		r.logger.InfoContext(ctx, "image transcoded to jpeg",
			"format", ev.Format,
			"color_model", ev.ColorModel,
			"width", ev.Width,
			"height", ev.Height,
			"bytes_in", ev.InputBytes,
			"bytes_out", ev.OutputBytes,
			"duration_ms", ev.Duration.Milliseconds(),
		)
	case Failed:
		r.logger.WarnContext(ctx, "image transcode failed, returning original",
			"stage", string(ev.Stage),
			"format", ev.Format,
			"bytes_in", ev.InputBytes,
			"err", ev.Err,
		)
	default:
		r.logger.DebugContext(ctx, "image transcode skipped",
			"stage", string(ev.Stage),
			"err", ev.Err,
		)
	}
}
