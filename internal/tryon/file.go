package tryon

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"
)

// UploadedFile is one user-selected image. It is never mutated after Encode
// returns; a re-upload replaces the whole value.
type UploadedFile struct {
	Base64   string
	MimeType string
	Name     string
}

func (f UploadedFile) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", f.MimeType, f.Base64)
}

// ImageInfo is the header-level description of an uploaded image.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Encode reads r to the end and returns its bytes as a standard base64
// payload together with the resolved MIME type.
func Encode(r io.Reader, name, declaredType string) (UploadedFile, error) {
	if r == nil {
		return UploadedFile{}, &EncodingError{Name: name, Err: errors.New("nil reader")}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return UploadedFile{}, &EncodingError{Name: name, Err: err}
	}

	return UploadedFile{
		Base64:   base64.StdEncoding.EncodeToString(raw),
		MimeType: resolveMimeType(declaredType, raw),
		Name:     name,
	}, nil
}

func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(stripParams(mimeType)), "image/")
}

// Inspect decodes only the image header. An unknown or corrupt image is
// reported as an error but the upload itself stays valid.
func Inspect(f UploadedFile) (ImageInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Base64)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("decode base64: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("decode image header: %w", err)
	}

	return ImageInfo{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// ParseDataURI splits a data URI into its MIME type and base64 payload.
func ParseDataURI(value string) (mimeType string, payload string, err error) {
	value = strings.TrimSpace(value)
	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return "", "", errors.New("not a data uri")
	}

	meta, data, ok := strings.Cut(strings.TrimPrefix(value, prefix), ",")
	if !ok {
		return "", "", errors.New("invalid data uri")
	}

	metaParts := strings.Split(meta, ";")
	if len(metaParts) < 2 || metaParts[len(metaParts)-1] != "base64" {
		return "", "", errors.New("data uri is not base64 encoded")
	}

	mimeType = strings.TrimSpace(metaParts[0])
	if mimeType == "" {
		return "", "", errors.New("data uri has no mime type")
	}
	return mimeType, data, nil
}

func resolveMimeType(declared string, raw []byte) string {
	mimeType := stripParams(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = stripParams(http.DetectContentType(raw))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func stripParams(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if before, _, ok := strings.Cut(mimeType, ";"); ok {
		mimeType = strings.TrimSpace(before)
	}
	return mimeType
}
