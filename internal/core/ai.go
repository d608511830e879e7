package core

import "context"

// EmbeddingProvider turns text into fixed-length vectors.
// EmbedQuery must return vectors in the same space as EmbedTexts.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VisionResult is the caption and detected objects for one image.
type VisionResult struct {
	Caption string
	Tags    []string
}

// ModelFamily is a group of accelerator-resident models that are loaded together.
type ModelFamily interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
}

// VisionModel captions images and detects objects in batches.
type VisionModel interface {
	ModelFamily
	AnalyzeImages(ctx context.Context, paths []string) ([]VisionResult, error)
}

// SpeechModel transcribes a local audio or video file.
type SpeechModel interface {
	ModelFamily
	Transcribe(ctx context.Context, path string) (string, error)
}
