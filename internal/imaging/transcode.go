// Package imaging transcodes base64-encoded images to base64-encoded JPEG.
//
// Every failure degrades to returning the input unchanged: callers always get
// back a string that is either a freshly encoded JPEG or byte-identical to
// what they passed in.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is the encoder quality used for every transcoded image.
// It is not configurable.
const JPEGQuality = 95

// Outcome tags the result of a single transcode.
type Outcome int

const (
	// Unchanged means no work was attempted (the request was already
	// cancelled) and the input is returned as-is.
	Unchanged Outcome = iota
	// Converted means Data holds a new base64 JPEG.
	Converted
	// Failed means decoding or encoding failed and the input is returned as-is.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Converted:
		return "converted"
	case Failed:
		return "failed"
	default:
		return "unchanged"
	}
}

// Stage names the step at which a transcode stopped.
type Stage string

const (
	StageBase64 Stage = "base64_decode"
	StageImage  Stage = "image_decode"
	StageEncode Stage = "jpeg_encode"
	StageDone   Stage = "done"
	StageCancel Stage = "canceled"
)

// Result is the outcome of Transcode. Data is always valid to return to a
// client: either the converted JPEG or the original input.
type Result struct {
	Data    string
	Outcome Outcome
}

// Changed reports whether Data differs from the input.
func (r Result) Changed() bool {
	return r.Outcome == Converted
}

// Transcoder converts base64 images to base64 JPEG. It holds no mutable state
// and is safe for concurrent use.
type Transcoder struct {
	reporter Reporter
}

// NewTranscoder creates a Transcoder. A nil reporter discards events.
func NewTranscoder(r Reporter) *Transcoder {
	if r == nil {
		r = NopReporter
	}
	return &Transcoder{reporter: r}
}

// Transcode decodes encoded as base64, parses it as an image, flattens any
// transparency onto white and re-encodes it as JPEG. On any failure the input
// is returned unchanged. Cancellation of ctx is checked before decoding and
// before encoding; an abandoned transcode returns the input with Unchanged.
func (t *Transcoder) Transcode(ctx context.Context, encoded string) (res Result) {
	ev := Event{Stage: StageBase64}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			ev.Err = fmt.Errorf("panic during %s: %v", ev.Stage, p)
			res = Result{Data: encoded, Outcome: Failed}
		}
		ev.Outcome = res.Outcome
		ev.Duration = time.Since(start)
		t.reporter.ReportTranscode(ctx, ev)
	}()

	if err := ctx.Err(); err != nil {
		ev.Stage, ev.Err = StageCancel, err
		return Result{Data: encoded, Outcome: Unchanged}
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		ev.Err = fmt.Errorf("base64 decode: %w", err)
		return Result{Data: encoded, Outcome: Failed}
	}
	ev.InputBytes = len(raw)

	ev.Stage = StageImage
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		ev.Err = fmt.Errorf("image decode: %w", err)
		return Result{Data: encoded, Outcome: Failed}
	}
	b := img.Bounds()
	ev.Format = format
	ev.ColorModel = modelName(img)
	ev.Width, ev.Height = b.Dx(), b.Dy()

	if err := ctx.Err(); err != nil {
		ev.Stage, ev.Err = StageCancel, err
		return Result{Data: encoded, Outcome: Unchanged}
	}

	ev.Stage = StageEncode
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Flatten(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		ev.Err = fmt.Errorf("jpeg encode: %w", err)
		return Result{Data: encoded, Outcome: Failed}
	}
	ev.OutputBytes = buf.Len()
	ev.Stage = StageDone

	return Result{
		Data:    base64.StdEncoding.EncodeToString(buf.Bytes()),
		Outcome: Converted,
	}
}
