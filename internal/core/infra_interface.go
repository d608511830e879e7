package core

import (
	"context"
	"io"

	"github.com/kaushikharsh99/Dropvault/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	GetItemByLocator(ctx context.Context, ownerID, locator string) (*models.Item, error)
	ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error)
	ListUnfinishedItems(ctx context.Context, ownerID string) ([]models.Item, error)
	ListCompletedItems(ctx context.Context, ownerID string) ([]models.Item, error)
	UpsertSyncedItem(ctx context.Context, item *models.Item) (string, error)
	DeleteItem(ctx context.Context, id, ownerID string) error

	UpdateProgress(ctx context.Context, p models.Progress) error
	CompleteItem(ctx context.Context, c models.Completion, chunks []models.Chunk) error
	GetChunksByItem(ctx context.Context, itemID string) ([]models.Chunk, error)

	ListChunksForSearch(ctx context.Context, ownerID string, f models.ChunkFilter) ([]models.SearchChunk, error)
	RecordAccess(ctx context.Context, itemID, ownerID string) error
	RecentAccessedChunkEmbeddings(ctx context.Context, ownerID string, limit int) ([][]float32, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	DownloadToFile(ctx context.Context, bucket, key, dst string) error
}
