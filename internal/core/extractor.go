package core

import (
	"context"

	"github.com/kaushikharsh99/Dropvault/internal/models"
)

// Extraction represents the result of text extraction, potentially with metadata.
type Extraction struct {
	Text  string
	Title string
	Image string
}

// Extractor turns a resolved locator into text for the given item type.
// For links the locator is the URL; for files it is a readable local path.
type Extractor interface {
	Extract(ctx context.Context, locator string, itemType models.ItemType) (Extraction, error)
}
