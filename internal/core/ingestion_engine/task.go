package ingestion_engine

import (
	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
)

// EnqueueRequest is what callers submit for processing.
type EnqueueRequest struct {
	ItemID        string          `json:"item_id" validate:"required"`
	OwnerID       string          `json:"owner_id" validate:"required"`
	Type          models.ItemType `json:"type" validate:"required"`
	Locator       string          `json:"locator"`
	ThumbnailPath string          `json:"thumbnail_path,omitempty"`
}

// Task threads one item through the stages. It is passed by value and every
// stage returns an augmented copy, so tasks batched together never share state.
type Task struct {
	ItemID        string
	OwnerID       string
	Type          models.ItemType
	Locator       string
	ThumbnailPath string

	// set by the router once the locator is readable on this host
	LocalPath  string
	LocalThumb string

	OCRText       string
	VisionCaption string
	VisionTags    []string
	Transcript    string
	MetaTitle     string
	MetaImage     string
}

func NewTask(req EnqueueRequest) Task {
	return Task{
		ItemID:        req.ItemID,
		OwnerID:       req.OwnerID,
		Type:          req.Type,
		Locator:       req.Locator,
		ThumbnailPath: req.ThumbnailPath,
	}
}

func (t Task) WithLocalPaths(path, thumb string) Task {
	t.LocalPath = path
	t.LocalThumb = thumb
	return t
}

func (t Task) WithExtraction(e core.Extraction) Task {
	t.OCRText = e.Text
	t.MetaTitle = e.Title
	t.MetaImage = e.Image
	return t
}

func (t Task) WithVision(r core.VisionResult) Task {
	t.VisionCaption = r.Caption
	t.VisionTags = append([]string(nil), r.Tags...)
	return t
}

func (t Task) WithTranscript(text string) Task {
	t.Transcript = text
	return t
}

// VisionTarget is the image the vision models should look at: the thumbnail
// for videos that have one, the file itself otherwise.
func (t Task) VisionTarget() string {
	if t.Type == models.ItemTypeVideo && t.LocalThumb != "" {
		return t.LocalThumb
	}
	return t.LocalPath
}

func (t Task) progress(stage string, percent int, message string, status models.ItemStatus) models.Progress {
	return models.Progress{
		ItemID:  t.ItemID,
		OwnerID: t.OwnerID,
		Stage:   stage,
		Percent: percent,
		Message: message,
		Status:  status,
	}
}
