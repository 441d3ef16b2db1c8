package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeJPEG(t *testing.T, encoded string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("output is not valid base64: %v", err)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(raw)); err != nil || format != "jpeg" {
		t.Fatalf("output format = %q (err %v), want jpeg", format, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("jpeg.Decode: %v", err)
	}
	return img
}

func fill(img *image.NRGBA, c color.NRGBA) *image.NRGBA {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// near reports whether every channel of c is within tol of want.
func near(c color.Color, want [3]uint8, tol int) bool {
	r, g, b, _ := c.RGBA()
	got := [3]int{int(r >> 8), int(g >> 8), int(b >> 8)}
	for i := range got {
		d := got[i] - int(want[i])
		if d < -tol || d > tol {
			return false
		}
	}
	return true
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ReportTranscode(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestTranscode_PNGWithAlpha(t *testing.T) {
	src := fill(image.NewNRGBA(image.Rect(0, 0, 40, 24)), color.NRGBA{R: 0, G: 128, B: 255, A: 180})
	rec := &recorder{}
	tr := NewTranscoder(rec)

	res := tr.Transcode(context.Background(), encodePNG(t, src))
	if res.Outcome != Converted {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, Converted)
	}
	if !res.Changed() {
		t.Error("Changed() = false, want true")
	}

	out := decodeJPEG(t, res.Data)
	if got := out.Bounds().Size(); got != (image.Point{X: 40, Y: 24}) {
		t.Errorf("size = %v, want 40x24", got)
	}
	if _, ok := out.(*image.YCbCr); !ok {
		t.Errorf("decoded model = %T, want *image.YCbCr (three channels, no alpha)", out)
	}

	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Format != "png" || ev.ColorModel != "nrgba" {
		t.Errorf("event format/model = %q/%q, want png/nrgba", ev.Format, ev.ColorModel)
	}
	if ev.Width != 40 || ev.Height != 24 {
		t.Errorf("event dims = %dx%d, want 40x24", ev.Width, ev.Height)
	}
	if ev.Stage != StageDone || ev.Err != nil {
		t.Errorf("event stage/err = %q/%v, want done/nil", ev.Stage, ev.Err)
	}
	if ev.OutputBytes == 0 || ev.InputBytes == 0 {
		t.Errorf("event bytes in/out = %d/%d, want both > 0", ev.InputBytes, ev.OutputBytes)
	}
}

func TestTranscode_TransparentBecomesWhite(t *testing.T) {
	src := fill(image.NewNRGBA(image.Rect(0, 0, 16, 16)), color.NRGBA{R: 10, G: 200, B: 30, A: 0})

	res := NewTranscoder(nil).Transcode(context.Background(), encodePNG(t, src))
	if res.Outcome != Converted {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, Converted)
	}

	out := decodeJPEG(t, res.Data)
	if c := out.At(8, 8); !near(c, [3]uint8{255, 255, 255}, 4) {
		t.Errorf("pixel = %v, want white", c)
	}
}

func TestTranscode_PalettedWithTransparency(t *testing.T) {
	pal := color.Palette{
		color.NRGBA{A: 0},
		color.NRGBA{R: 255, A: 255},
	}
	src := image.NewPaletted(image.Rect(0, 0, 16, 16), pal)
	for y := 0; y < 16; y++ {
		for x := 8; x < 16; x++ {
			src.SetColorIndex(x, y, 1)
		}
	}

	res := NewTranscoder(nil).Transcode(context.Background(), encodePNG(t, src))
	if res.Outcome != Converted {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, Converted)
	}

	out := decodeJPEG(t, res.Data)
	if c := out.At(2, 8); !near(c, [3]uint8{255, 255, 255}, 24) {
		t.Errorf("transparent pixel = %v, want white", c)
	}
	if c := out.At(13, 8); !near(c, [3]uint8{255, 0, 0}, 40) {
		t.Errorf("opaque pixel = %v, want red", c)
	}
}

func TestTranscode_GrayBecomesThreeChannel(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 90
	}

	res := NewTranscoder(nil).Transcode(context.Background(), encodePNG(t, src))
	if res.Outcome != Converted {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, Converted)
	}
	out := decodeJPEG(t, res.Data)
	if _, ok := out.(*image.YCbCr); !ok {
		t.Errorf("decoded model = %T, want *image.YCbCr", out)
	}
}

func TestTranscode_JPEGSourceReencoded(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 50}); err != nil {
		t.Fatal(err)
	}
	in := base64.StdEncoding.EncodeToString(buf.Bytes())

	res := NewTranscoder(nil).Transcode(context.Background(), in)
	if res.Outcome != Converted {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, Converted)
	}
	decodeJPEG(t, res.Data)
}

func TestTranscode_ReturnsInputOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		input string
		stage Stage
	}{
		{"invalid alphabet", "not base64!!", StageBase64},
		{"bad padding", "aGVsbG8", StageBase64},
		{"base64 but not an image", base64.StdEncoding.EncodeToString([]byte("hello world")), StageImage},
		{"truncated png header", base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n")), StageImage},
		{"empty string", "", StageImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			res := NewTranscoder(rec).Transcode(context.Background(), tt.input)
			if res.Data != tt.input {
				t.Errorf("Data = %q, want input unchanged", res.Data)
			}
			if res.Outcome != Failed {
				t.Errorf("Outcome = %v, want %v", res.Outcome, Failed)
			}
			if len(rec.events) != 1 || rec.events[0].Stage != tt.stage || rec.events[0].Err == nil {
				t.Errorf("events = %+v, want one %s failure", rec.events, tt.stage)
			}
		})
	}
}

func TestTranscode_CanceledContext(t *testing.T) {
	in := encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	res := NewTranscoder(rec).Transcode(ctx, in)
	if res.Outcome != Unchanged {
		t.Errorf("Outcome = %v, want %v", res.Outcome, Unchanged)
	}
	if res.Data != in {
		t.Error("Data changed for canceled context")
	}
	if len(rec.events) != 1 || rec.events[0].Stage != StageCancel {
		t.Errorf("events = %+v, want one canceled event", rec.events)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{Converted, "converted"},
		{Failed, "failed"},
		{Unchanged, "unchanged"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}
