package tryon

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPhoto   = &ValidationError{Message: "Please upload a photo of yourself first."}
	ErrMissingGarment = &ValidationError{Message: "Please upload an image of at least one garment."}

	ErrRunInProgress = errors.New("a generation is already in progress")
	ErrIncomplete    = errors.New("could not generate all requested images. Please try again.")
)

// ValidationError blocks a run before the model is called.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// EncodingError is returned when an upload cannot be read.
type EncodingError struct {
	Name string
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("read image: %v", e.Err)
	}
	return fmt.Sprintf("read image %q: %v", e.Name, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// GenerationError aborts a whole run. Scene and Index identify the scene
// that failed.
type GenerationError struct {
	Scene Scene
	Index int
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("error with scene %q: %v. Please try again.", e.Scene.Title(), e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NoImageError is the cause used when the model answered without an image.
type NoImageError struct {
	Title string
}

func (e *NoImageError) Error() string {
	return "the model returned no image for scene: " + e.Title
}
