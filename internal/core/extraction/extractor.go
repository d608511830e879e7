package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
)

// ErrUnsupportedType is returned for item types that have no extraction capability.
var ErrUnsupportedType = errors.New("no extractor for item type")

// Extractor dispatches to the capability matching the item type and bounds
// every call with a timeout. A timed-out call is reported as a failure.
type Extractor struct {
	docs    *DocconvExtractor
	links   *LinkExtractor
	timeout time.Duration
}

func NewExtractor(docs *DocconvExtractor, links *LinkExtractor, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Extractor{docs: docs, links: links, timeout: timeout}
}

func (e *Extractor) Extract(ctx context.Context, locator string, itemType models.ItemType) (core.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch itemType {
	case models.ItemTypeImage:
		text, err := e.docs.ExtractFile(ctx, locator, "")
		return core.Extraction{Text: text}, err
	case models.ItemTypePDF:
		text, err := e.docs.ExtractFile(ctx, locator, "application/pdf")
		return core.Extraction{Text: text}, err
	case models.ItemTypeLink, models.ItemTypeVideo:
		return e.links.ExtractLink(ctx, locator)
	default:
		return core.Extraction{}, fmt.Errorf("%w: %s", ErrUnsupportedType, itemType)
	}
}

var _ core.Extractor = (*Extractor)(nil)
