package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/core/ingestion_engine"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

const maxTextUpload = 1 << 20

var (
	ErrItemNotFound = errors.New("item not found")
	ErrBadItem      = errors.New("invalid item")
)

// ItemStore is the slice of the chunk store the item endpoints use.
type ItemStore interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error)
	DeleteItem(ctx context.Context, id, ownerID string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req ingestion_engine.EnqueueRequest) error
}

// AccessRecorder counts item opens for retrieval popularity.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, itemID, ownerID string) error
}

// NewItem describes a saved link, note or text snippet.
type NewItem struct {
	OwnerID string
	Type    models.ItemType
	Locator string
	Title   string
	Content string
	Tags    string
}

// Upload describes a file dropped into the vault.
type Upload struct {
	OwnerID     string
	Filename    string
	ContentType string
	Type        models.ItemType // inferred from ContentType when empty
	Title       string
	Tags        string
	Body        io.Reader
}

type ItemService struct {
	db       ItemStore
	storage  core.ObjectClient // nil stores uploads under root
	bucket   string
	root     string
	pipeline Enqueuer
	access   AccessRecorder
	log      logger.ILogger
}

func NewItemService(db ItemStore, storage core.ObjectClient, bucket, root string, pipeline Enqueuer, access AccessRecorder, log logger.ILogger) *ItemService {
	return &ItemService{
		db:       db,
		storage:  storage,
		bucket:   bucket,
		root:     root,
		pipeline: pipeline,
		access:   access,
		log:      log,
	}
}

// Create stores a link, note or text item and hands it to the pipeline.
func (s *ItemService) Create(ctx context.Context, in NewItem) (*models.Item, error) {
	switch in.Type {
	case models.ItemTypeLink:
		if in.Locator == "" {
			return nil, fmt.Errorf("%w: link needs a url", ErrBadItem)
		}
	case models.ItemTypeNote, models.ItemTypeText:
		if strings.TrimSpace(in.Content) == "" {
			return nil, fmt.Errorf("%w: %s needs content", ErrBadItem, in.Type)
		}
	case models.ItemTypeVideo:
		if in.Locator == "" {
			return nil, fmt.Errorf("%w: video needs a url or an upload", ErrBadItem)
		}
	default:
		return nil, fmt.Errorf("%w: %q items must be uploaded", ErrBadItem, in.Type)
	}

	item := &models.Item{
		ID:      uuid.NewString(),
		OwnerID: in.OwnerID,
		Type:    in.Type,
		Locator: in.Locator,
		Title:   in.Title,
		Content: in.Content,
		Tags:    in.Tags,
	}
	if item.Title == "" {
		item.Title = defaultTitle(in)
	}
	return s.save(ctx, item)
}

// UploadAndCreate stores the file in object storage (or under the storage
// root when none is configured) and enqueues the new item.
func (s *ItemService) UploadAndCreate(ctx context.Context, up Upload) (*models.Item, error) {
	if up.Type == "" {
		up.Type = TypeForUpload(up.Filename, up.ContentType)
	}
	if !up.Type.Valid() {
		return nil, fmt.Errorf("%w: unsupported file %q", ErrBadItem, up.Filename)
	}

	id := uuid.NewString()
	filename := cleanFilename(up.Filename)

	title := up.Title
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	// text files are indexed from their body, there is nothing to resolve later
	if up.Type == models.ItemTypeText {
		body, err := io.ReadAll(io.LimitReader(up.Body, maxTextUpload))
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return s.save(ctx, &models.Item{
			ID:      id,
			OwnerID: up.OwnerID,
			Type:    up.Type,
			Title:   title,
			Content: string(body),
			Tags:    up.Tags,
		})
	}

	locator, err := s.store(ctx, up.OwnerID, id, filename, up.ContentType, up.Body)
	if err != nil {
		return nil, err
	}

	item := &models.Item{
		ID:      id,
		OwnerID: up.OwnerID,
		Type:    up.Type,
		Locator: locator,
		Title:   title,
		Tags:    up.Tags,
	}
	return s.save(ctx, item)
}

func (s *ItemService) save(ctx context.Context, item *models.Item) (*models.Item, error) {
	item.Status = models.StatusPending
	item.Stage = models.StageQueued
	item.Message = "Queued"

	if err := s.db.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	err := s.pipeline.Enqueue(ctx, ingestion_engine.EnqueueRequest{
		ItemID:        item.ID,
		OwnerID:       item.OwnerID,
		Type:          item.Type,
		Locator:       item.Locator,
		ThumbnailPath: item.ThumbnailPath,
	})
	if err != nil {
		// the row stays pending and is picked up by the next recovery pass
		s.log.Error("item_service", "enqueue failed", map[string]interface{}{
			"item_id": item.ID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("enqueue item: %w", err)
	}
	return item, nil
}

func (s *ItemService) store(ctx context.Context, ownerID, itemID, filename, contentType string, body io.Reader) (string, error) {
	if s.storage != nil {
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		url, err := s.storage.UploadFile(ctx, s.bucket, s.objectKey(ownerID, itemID, filename), body, contentType)
		if err != nil {
			return "", fmt.Errorf("upload: %w", err)
		}
		return url, nil
	}

	rel := path.Join(cleanFilename(ownerID), itemID, filename)
	dst := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return "/uploads/" + rel, nil
}

// Get returns the caller's item and counts the open.
func (s *ItemService) Get(ctx context.Context, ownerID, id string) (*models.Item, error) {
	item, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.RecordAccess(ctx, id, ownerID); err != nil {
		s.log.Warn("item_service", "record access failed", map[string]interface{}{
			"item_id": id,
			"error":   err.Error(),
		})
	}
	return item, nil
}

func (s *ItemService) List(ctx context.Context, ownerID string) ([]models.Item, error) {
	items, err := s.db.ListItemsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

// Delete removes the item with its chunks, then the stored upload best-effort.
func (s *ItemService) Delete(ctx context.Context, ownerID, id string) error {
	item, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteItem(ctx, id, ownerID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.removeStored(ctx, item)
	return nil
}

func (s *ItemService) removeStored(ctx context.Context, item *models.Item) {
	var err error
	switch {
	case s.storage != nil && strings.Contains(item.Locator, s.bucket+".s3."):
		_, key, _ := strings.Cut(strings.TrimPrefix(item.Locator, "https://"), "/")
		err = s.storage.DeleteFile(ctx, s.bucket, key)
	case strings.HasPrefix(item.Locator, "/uploads/"):
		dir := filepath.Join(s.root, cleanFilename(item.OwnerID), item.ID)
		err = os.RemoveAll(dir)
	default:
		return
	}
	if err != nil {
		s.log.Warn("item_service", "stored file not removed", map[string]interface{}{
			"item_id": item.ID,
			"error":   err.Error(),
		})
	}
}

func (s *ItemService) owned(ctx context.Context, ownerID, id string) (*models.Item, error) {
	item, err := s.db.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || item.OwnerID != ownerID {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// objectKey creates a consistent S3 key layout.
func (s *ItemService) objectKey(ownerID, itemID, filename string) string {
	return path.Join("users", ownerID, "items", itemID, filename)
}

// mime's builtin table lacks most media types; /etc/mime.types is not always present.
var extTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".heic": "image/heic",
}

// TypeForUpload infers the item type from the MIME type, then the extension.
// It returns "" for files the pipeline cannot index.
func TypeForUpload(filename, contentType string) models.ItemType {
	ct := contentType
	if ct == "" || ct == "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(filename))
		if known, ok := extTypes[ext]; ok {
			ct = known
		} else {
			ct = mime.TypeByExtension(ext)
		}
	}
	ct, _, _ = mime.ParseMediaType(ct)

	switch {
	case strings.HasPrefix(ct, "image/"):
		return models.ItemTypeImage
	case strings.HasPrefix(ct, "video/"):
		return models.ItemTypeVideo
	case strings.HasPrefix(ct, "audio/"):
		return models.ItemTypeAudio
	case ct == "application/pdf":
		return models.ItemTypePDF
	case strings.HasPrefix(ct, "text/"):
		return models.ItemTypeText
	}
	return ""
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return name
}

func defaultTitle(in NewItem) string {
	if in.Type == models.ItemTypeLink || in.Type == models.ItemTypeVideo {
		return in.Locator
	}
	line, _, _ := strings.Cut(strings.TrimSpace(in.Content), "\n")
	if r := []rune(line); len(r) > 80 {
		line = string(r[:80])
	}
	return line
}
