package tryon

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestEncodeRoundTrip(t *testing.T) {
	raw := pngBytes(t, 3, 2)

	f, err := Encode(bytes.NewReader(raw), "me.png", "image/png")
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if f.MimeType != "image/png" || f.Name != "me.png" {
		t.Fatalf("unexpected file metadata: %+v", f)
	}

	mimeType, payload, err := ParseDataURI(f.DataURI())
	if err != nil {
		t.Fatalf("ParseDataURI: %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("mime = %q, want image/png", mimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatalf("round trip changed the image bytes")
	}
}

func TestEncodeResolvesMimeType(t *testing.T) {
	raw := pngBytes(t, 1, 1)

	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
	}{
		{name: "declared wins", declared: "image/webp", data: raw, want: "image/webp"},
		{name: "params stripped", declared: "image/jpeg; charset=binary", data: raw, want: "image/jpeg"},
		{name: "sniffed when empty", declared: "", data: raw, want: "image/png"},
		{name: "sniffed when octet stream", declared: "application/octet-stream", data: raw, want: "image/png"},
		{name: "text is sniffed as text", declared: "", data: []byte("hello"), want: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Encode(bytes.NewReader(tt.data), "x", tt.declared)
			if err != nil {
				t.Fatalf("Encode returned error: %v", err)
			}
			if f.MimeType != tt.want {
				t.Fatalf("MimeType = %q, want %q", f.MimeType, tt.want)
			}
		})
	}
}

func TestEncodeReadFailure(t *testing.T) {
	_, err := Encode(failingReader{}, "broken.jpg", "image/jpeg")
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("platform error not surfaced: %v", err)
	}
}

func TestIsImageType(t *testing.T) {
	cases := map[string]bool{
		"image/png":                true,
		"IMAGE/JPEG":               true,
		"image/webp; q=1":          true,
		"application/pdf":          false,
		"":                         false,
		"text/plain; charset=utf8": false,
	}
	for in, want := range cases {
		if got := IsImageType(in); got != want {
			t.Errorf("IsImageType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInspect(t *testing.T) {
	f, err := Encode(bytes.NewReader(pngBytes(t, 7, 5)), "a.png", "image/png")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	info, err := Inspect(f)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Format != "png" || info.Width != 7 || info.Height != 5 {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := Inspect(UploadedFile{Base64: base64.StdEncoding.EncodeToString([]byte("nope"))}); err == nil {
		t.Fatalf("expected error for non-image payload")
	}
}

func TestParseDataURIRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "data:image/png,abc", "data:;base64,abc", "data:image/png;base64"} {
		if _, _, err := ParseDataURI(in); err == nil {
			t.Errorf("ParseDataURI(%q) expected error", in)
		}
	}
}
