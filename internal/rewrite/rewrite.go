// Package rewrite transcodes images embedded in upstream JSON responses.
//
// The rewriter only touches the array at result.files. A body is returned
// byte-for-byte unless at least one entry of that array actually changed.
package rewrite

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"fusionbrain-proxy-go/internal/imaging"
)

// FilesPath is the location of the image array inside the response envelope.
const FilesPath = "result.files"

// Transcoder converts a single encoded image.
type Transcoder interface {
	Transcode(ctx context.Context, encoded string) imaging.Result
}

// Rewriter rewrites upstream response bodies. It holds no per-request state
// and is safe for concurrent use.
type Rewriter struct {
	transcoder Transcoder
	reporter   Reporter
	workers    int
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithReporter sets the sink for per-response summaries.
func WithReporter(r Reporter) Option {
	return func(rw *Rewriter) {
		if r != nil {
			rw.reporter = r
		}
	}
}

// WithWorkers bounds how many entries of one response are transcoded at
// once. Values below 1 fall back to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(rw *Rewriter) {
		if n > 0 {
			rw.workers = n
		}
	}
}

// New creates a Rewriter backed by t.
func New(t Transcoder, opts ...Option) *Rewriter {
	rw := &Rewriter{
		transcoder: t,
		reporter:   NopReporter,
		workers:    runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

// IsJSON reports whether contentType declares a JSON body.
func IsJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}

// Rewrite returns the body to send to the client. It never fails: any
// anomaly (non-JSON, malformed JSON, unexpected shape, cancellation) yields
// the original body.
func (rw *Rewriter) Rewrite(ctx context.Context, body []byte, contentType string) []byte {
	start := time.Now()
	out, sum := rw.rewrite(ctx, body, contentType)
	sum.Duration = time.Since(start)
	rw.reporter.ReportRewrite(ctx, sum)
	return out
}

func (rw *Rewriter) rewrite(ctx context.Context, body []byte, contentType string) ([]byte, Summary) {
	if !IsJSON(contentType) {
		return body, Summary{Outcome: OutcomeNotJSON}
	}
	if !gjson.ValidBytes(body) {
		return body, Summary{Outcome: OutcomeInvalidJSON}
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return body, Summary{Outcome: OutcomeNoFiles}
	}
	result := doc.Get("result")
	if !result.IsObject() {
		return body, Summary{Outcome: OutcomeNoFiles}
	}
	files := result.Get("files")
	if !files.IsArray() {
		return body, Summary{Outcome: OutcomeNoFiles}
	}

	entries := files.Array()
	sum := Summary{Outcome: OutcomeUnchanged, Files: len(entries)}
	if len(entries) == 0 {
		return body, sum
	}

	results := rw.transcodeAll(ctx, entries)
	if ctx.Err() != nil {
		sum.Outcome = OutcomeCanceled
		return body, sum
	}

	raws := make([]string, len(entries))
	for i, e := range entries {
		raws[i] = e.Raw
		switch results[i].Outcome {
		case imaging.Failed:
			sum.Failed++
		case imaging.Converted:
			quoted, err := json.Marshal(results[i].Data)
			if err != nil {
				continue
			}
			raws[i] = string(quoted)
			sum.Converted++
		}
	}
	if sum.Converted == 0 {
		return body, sum
	}

	updated, err := sjson.SetRawBytes(body, FilesPath, []byte("["+strings.Join(raws, ",")+"]"))
	if err != nil {
		sum.Outcome = OutcomeFailed
		return body, sum
	}
	sum.Outcome = OutcomeRewritten
	return updated, sum
}

// transcodeAll runs the transcoder over every string entry. Non-string
// entries keep the zero Result, which reads as unchanged.
func (rw *Rewriter) transcodeAll(ctx context.Context, entries []gjson.Result) []imaging.Result {
	results := make([]imaging.Result, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rw.workers)
	for i, e := range entries {
		if e.Type != gjson.String {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		i, e := i, e // per-iteration copy (go 1.21 loop variable semantics)
		g.Go(func() error {
			results[i] = rw.transcoder.Transcode(gctx, e.Str)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
