package tryon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Model is the external image-editing model. Implementations make exactly
// one network round trip per call.
type Model interface {
	GenerateContent(ctx context.Context, parts []Part) (Response, error)
}

type Response struct {
	Candidates []Candidate
}

type Candidate struct {
	Parts []Part
}

// FirstImage returns the first inline image of the first candidate as a
// data URI. Any other part is ignored.
func (r Response) FirstImage() (string, bool) {
	if len(r.Candidates) == 0 {
		return "", false
	}
	for _, p := range r.Candidates[0].Parts {
		if p.IsImage() {
			mimeType := p.InlineData.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return fmt.Sprintf("data:%s;base64,%s", mimeType, p.InlineData.Data), true
		}
	}
	return "", false
}

// PreparingMessage is the progress shown between starting a run and the
// first scene.
const PreparingMessage = "Preparing the AI stylist..."

type Progress struct {
	Index   int
	Total   int
	Scene   Scene
	Message string
}

type GeneratorOptions struct {
	Model       Model
	Scenes      []Scene
	Concurrency int
	Logger      *slog.Logger
}

type Generator struct {
	model       Model
	scenes      []Scene
	concurrency int
	logger      *slog.Logger
}

func NewGenerator(opts GeneratorOptions) *Generator {
	scenes := opts.Scenes
	if len(scenes) == 0 {
		scenes = Scenes()
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Generator{
		model:       opts.Model,
		scenes:      append([]Scene(nil), scenes...),
		concurrency: concurrency,
		logger:      logger,
	}
}

func (g *Generator) Scenes() []Scene {
	return append([]Scene(nil), g.scenes...)
}

// Generate produces one image per scene, in scene order, or fails as a
// whole. Partial results are never returned.
func (g *Generator) Generate(ctx context.Context, self *UploadedFile, clothing ClothingSelection, progress func(Progress)) ([]string, error) {
	if err := Validate(self, clothing); err != nil {
		return nil, err
	}
	if g.model == nil {
		return nil, errors.New("model is nil")
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	var (
		images []string
		err    error
	)
	start := time.Now()
	if g.concurrency > 1 {
		images, err = g.generateParallel(ctx, *self, clothing, progress)
	} else {
		images, err = g.generateSequential(ctx, *self, clothing, progress)
	}
	if err != nil {
		g.logger.Error("generation failed", "err", err, "dur_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	if len(images) != len(g.scenes) {
		g.logger.Error("generation incomplete", "images", len(images), "scenes", len(g.scenes))
		return nil, ErrIncomplete
	}

	g.logger.Info("generation done", "images", len(images), "dur_ms", time.Since(start).Milliseconds())
	return images, nil
}

func (g *Generator) generateSequential(ctx context.Context, self UploadedFile, clothing ClothingSelection, progress func(Progress)) ([]string, error) {
	images := make([]string, 0, len(g.scenes))
	for i := range g.scenes {
		progress(g.progressFor(i))

		img, err := g.generateScene(ctx, i, self, clothing)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// generateParallel keeps index i mapped to scene i. Progress messages arrive
// in start order, which is best-effort under concurrency.
func (g *Generator) generateParallel(ctx context.Context, self UploadedFile, clothing ClothingSelection, progress func(Progress)) ([]string, error) {
	images := make([]string, len(g.scenes))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range g.scenes {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return &GenerationError{Scene: g.scenes[i], Index: i, Err: err}
			}
			progress(g.progressFor(i))

			img, err := g.generateScene(egCtx, i, self, clothing)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := images[:0]
	for _, img := range images {
		if img != "" {
			out = append(out, img)
		}
	}
	return out, nil
}

func (g *Generator) generateScene(ctx context.Context, i int, self UploadedFile, clothing ClothingSelection) (string, error) {
	scene := g.scenes[i]
	parts := BuildPrompt(self, clothing, scene.Description)

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, parts)
	if err != nil {
		return "", &GenerationError{Scene: scene, Index: i, Err: err}
	}

	img, ok := resp.FirstImage()
	if !ok {
		return "", &GenerationError{Scene: scene, Index: i, Err: &NoImageError{Title: scene.Title()}}
	}

	g.logger.Debug("scene generated", "scene", i+1, "title", scene.Title(), "parts", len(parts), "dur_ms", time.Since(start).Milliseconds())
	return img, nil
}

func (g *Generator) progressFor(i int) Progress {
	scene := g.scenes[i]
	return Progress{
		Index:   i,
		Total:   len(g.scenes),
		Scene:   scene,
		Message: fmt.Sprintf("Generating look %d of %d: %s...", i+1, len(g.scenes), scene.Title()),
	}
}
