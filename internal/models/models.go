package models

import (
	"strings"
	"time"
)

// ItemType is the content descriptor of a saved item.
type ItemType string

const (
	ItemTypeImage ItemType = "image"
	ItemTypePDF   ItemType = "pdf"
	ItemTypeAudio ItemType = "audio"
	ItemTypeVideo ItemType = "video"
	ItemTypeLink  ItemType = "link"
	ItemTypeNote  ItemType = "note"
	ItemTypeText  ItemType = "text"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeImage, ItemTypePDF, ItemTypeAudio, ItemTypeVideo, ItemTypeLink, ItemTypeNote, ItemTypeText:
		return true
	}
	return false
}

// ItemStatus is the processing state machine of an item.
// pending -> processing -> completed | failed
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage labels reported by the pipeline.
const (
	StageQueued   = "queued"
	StageOCR      = "ocr"
	StageVisual   = "visual"
	StageWhisper  = "whisper"
	StageEmbed    = "embed"
	StageDone     = "done"
	StageFailed   = "failed"
	StageUpdating = "updating"
)

// ChunkType categorises a chunk's evidence and drives its retrieval weight.
type ChunkType string

const (
	ChunkTypeOCR        ChunkType = "ocr"
	ChunkTypeCaption    ChunkType = "caption"
	ChunkTypeVisual     ChunkType = "visual"
	ChunkTypeTranscript ChunkType = "transcript"
)

// Item represents one piece of saved content and its processing state.
type Item struct {
	ID             string     `db:"id" json:"id"`
	OwnerID        string     `db:"owner_id" json:"owner_id"`
	Type           ItemType   `db:"type" json:"type"`
	Locator        string     `db:"locator" json:"locator"`               // local storage path or URL
	ThumbnailPath  string     `db:"thumbnail_path" json:"thumbnail_path"` // optional
	Title          string     `db:"title" json:"title"`
	Content        string     `db:"content" json:"content"`
	Tags           string     `db:"tags" json:"tags"` // comma separated
	Status         ItemStatus `db:"status" json:"status"`
	Stage          string     `db:"stage" json:"stage"`
	Percent        int        `db:"percent" json:"percent"`
	Message        string     `db:"message" json:"message"`
	Embedding      []float32  `db:"embedding" json:"-"` // whole-item vector
	AccessCount    int        `db:"access_count" json:"access_count"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Chunk represents one retrievable unit of evidence for an item.
type Chunk struct {
	ID        string    `db:"id" json:"id"`
	ItemID    string    `db:"item_id" json:"item_id"`
	Type      ChunkType `db:"chunk_type" json:"chunk_type"`
	Position  int       `db:"position" json:"position"`
	Text      string    `db:"text" json:"text"`
	Embedding []float32 `db:"embedding" json:"-"` // pgvector column
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Progress is the tuple reported at every stage boundary.
type Progress struct {
	ItemID  string     `json:"item_id"`
	OwnerID string     `json:"-"`
	Stage   string     `json:"stage"`
	Percent int        `json:"percent"`
	Message string     `json:"message"`
	Status  ItemStatus `json:"status"`
}

// Completion is the final write of a successfully enriched item.
// Title and Thumbnail are left untouched when empty.
type Completion struct {
	ItemID    string
	Content   string
	Title     string
	Thumbnail string
	Embedding []float32
}

// SearchChunk is a chunk joined with the item fields the ranking needs.
type SearchChunk struct {
	Chunk
	ItemType      ItemType
	ItemTitle     string
	ItemTags      string
	AccessCount   int
	ItemCreatedAt time.Time
}

// ChunkFilter narrows the owner's chunks before recall.
type ChunkFilter struct {
	Type  ItemType
	Since *time.Time
	Until *time.Time
	Tags  []string
}

// MatchTags reports whether a comma separated tag list shares at least one tag
// with the filter. An empty filter matches everything.
func (f ChunkFilter) MatchTags(tags string) bool {
	if len(f.Tags) == 0 {
		return true
	}
	have := map[string]struct{}{}
	for _, t := range strings.Split(tags, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			have[t] = struct{}{}
		}
	}
	for _, want := range f.Tags {
		if _, ok := have[strings.ToLower(strings.TrimSpace(want))]; ok {
			return true
		}
	}
	return false
}
