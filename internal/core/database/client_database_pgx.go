package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kaushikharsh99/Dropvault/internal/config"
	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
)

// ErrItemNotFound is returned by writes that target a missing item.
var ErrItemNotFound = errors.New("item not found")

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const itemColumns = `id, owner_id, type, locator, thumbnail_path, title, content, tags,
	status, stage, percent, message, access_count, last_accessed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*models.Item, error) {
	var (
		it         models.Item
		lastAccess sql.NullTime
	)
	err := r.Scan(&it.ID, &it.OwnerID, &it.Type, &it.Locator, &it.ThumbnailPath, &it.Title, &it.Content, &it.Tags,
		&it.Status, &it.Stage, &it.Percent, &it.Message, &it.AccessCount, &lastAccess, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastAccess.Valid {
		t := lastAccess.Time
		it.LastAccessedAt = &t
	}
	return &it, nil
}

func (c *DatabaseClient) queryItems(ctx context.Context, q string, args ...any) ([]models.Item, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// Items

func (c *DatabaseClient) CreateItem(ctx context.Context, item *models.Item) error {
	if item == nil {
		return errors.New("nil item")
	}
	const q = `
		INSERT INTO items
			(id, owner_id, type, locator, thumbnail_path, title, content, tags, status, stage, percent, message)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := c.db.ExecContext(ctx, q,
		item.ID, item.OwnerID, item.Type, item.Locator, item.ThumbnailPath, item.Title, item.Content, item.Tags,
		item.Status, item.Stage, item.Percent, item.Message)
	return err
}

func (c *DatabaseClient) GetItem(ctx context.Context, id string) (*models.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	it, err := scanItem(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

func (c *DatabaseClient) GetItemByLocator(ctx context.Context, ownerID, locator string) (*models.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE owner_id = $1 AND locator = $2 ORDER BY created_at ASC LIMIT 1`
	it, err := scanItem(c.db.QueryRowContext(ctx, q, ownerID, locator))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

func (c *DatabaseClient) ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE owner_id = $1 ORDER BY created_at DESC`
	return c.queryItems(ctx, q, ownerID)
}

// ListUnfinishedItems returns pending and processing items, oldest first.
// An empty ownerID lists them for every owner.
func (c *DatabaseClient) ListUnfinishedItems(ctx context.Context, ownerID string) ([]models.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items
		WHERE status IN ('pending', 'processing') AND ($1::text = '' OR owner_id = $1)
		ORDER BY created_at ASC`
	return c.queryItems(ctx, q, ownerID)
}

func (c *DatabaseClient) ListCompletedItems(ctx context.Context, ownerID string) ([]models.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items
		WHERE status = 'completed' AND ($1::text = '' OR owner_id = $1)
		ORDER BY created_at ASC`
	return c.queryItems(ctx, q, ownerID)
}

// UpsertSyncedItem creates or refreshes an item that mirrors an external source,
// keyed by (owner, locator). Refreshing drops the item's chunks in the same
// transaction. It returns the item id.
func (c *DatabaseClient) UpsertSyncedItem(ctx context.Context, item *models.Item) (string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM items WHERE owner_id = $1 AND locator = $2 LIMIT 1 FOR UPDATE`,
		item.OwnerID, item.Locator).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = item.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (id, owner_id, type, locator, title, content, tags, status, stage, percent, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 'queued', 0, 'Indexing repo...')`,
			id, item.OwnerID, item.Type, item.Locator, item.Title, item.Content, item.Tags)
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE items
			SET title = $2, content = $3, tags = $4, status = 'processing', stage = 'updating',
			    percent = 0, message = 'Updating content...', updated_at = now()
			WHERE id = $1`,
			id, item.Title, item.Content, item.Tags)
		if err == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE item_id = $1`, id)
		}
	}
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// DeleteItem removes an item and its chunks in one transaction.
func (c *DatabaseClient) DeleteItem(ctx context.Context, id, ownerID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE item_id = $1`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return tx.Commit()
}

// Progress and completion

// UpdateProgress overwrites the item's progress fields. An empty status keeps the current one.
func (c *DatabaseClient) UpdateProgress(ctx context.Context, p models.Progress) error {
	const q = `
		UPDATE items
		SET stage = $2, percent = $3, message = $4,
		    status = COALESCE(NULLIF($5::text, ''), status), updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, p.ItemID, p.Stage, p.Percent, p.Message, string(p.Status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, p.ItemID)
	}
	return nil
}

// CompleteItem replaces the item's chunk set and writes the completed state in a
// single transaction. Either all of it lands or none of it does.
func (c *DatabaseClient) CompleteItem(ctx context.Context, comp models.Completion, chunks []models.Chunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE item_id = $1`, comp.ItemID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	if len(chunks) > 0 {
		const ins = `
			INSERT INTO chunks (id, item_id, chunk_type, position, text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		stmt, err := tx.PrepareContext(ctx, ins)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range chunks {
			ch := &chunks[i]
			if ch.ID == "" {
				ch.ID = uuid.NewString()
			}
			if _, err := stmt.ExecContext(ctx,
				ch.ID, comp.ItemID, ch.Type, ch.Position, ch.Text, pgvector.NewVector(ch.Embedding),
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", i, err)
			}
		}
	}

	var itemVec any
	if len(comp.Embedding) > 0 {
		itemVec = pgvector.NewVector(comp.Embedding)
	}
	const upd = `
		UPDATE items
		SET content = $2,
		    title = CASE WHEN $3::text = '' THEN title ELSE $3 END,
		    thumbnail_path = CASE WHEN $4::text = '' THEN thumbnail_path ELSE $4 END,
		    embedding = $5,
		    status = 'completed', stage = 'done', percent = 100, message = 'Completed',
		    updated_at = now()
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, upd, comp.ItemID, comp.Content, comp.Title, comp.Thumbnail, itemVec)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, comp.ItemID)
	}
	return tx.Commit()
}

// Chunks

func (c *DatabaseClient) GetChunksByItem(ctx context.Context, itemID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, item_id, chunk_type, position, text, embedding, created_at
		FROM chunks
		WHERE item_id = $1
		ORDER BY chunk_type, position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.ItemID, &ch.Type, &ch.Position, &ch.Text, &emb, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ListChunksForSearch returns every chunk of the owner's items that passes the
// type and date filters, joined with the item fields ranking needs.
func (c *DatabaseClient) ListChunksForSearch(ctx context.Context, ownerID string, f models.ChunkFilter) ([]models.SearchChunk, error) {
	const q = `
		SELECT c.id, c.item_id, c.chunk_type, c.position, c.text, c.embedding, c.created_at,
		       i.type, i.title, i.tags, i.access_count, i.created_at
		FROM chunks c
		JOIN items i ON i.id = c.item_id
		WHERE i.owner_id = $1
		  AND ($2::text = '' OR i.type = $2)
		  AND ($3::timestamptz IS NULL OR i.created_at >= $3)
		  AND ($4::timestamptz IS NULL OR i.created_at <= $4)
	`
	rows, err := c.db.QueryContext(ctx, q, ownerID, string(f.Type), nullTime(f.Since), nullTime(f.Until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchChunk
	for rows.Next() {
		var (
			sc  models.SearchChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&sc.ID, &sc.ItemID, &sc.Type, &sc.Position, &sc.Text, &emb, &sc.Chunk.CreatedAt,
			&sc.ItemType, &sc.ItemTitle, &sc.ItemTags, &sc.AccessCount, &sc.ItemCreatedAt); err != nil {
			return nil, err
		}
		if !f.MatchTags(sc.ItemTags) {
			continue
		}
		sc.Embedding = emb.Slice()
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Read-path telemetry

func (c *DatabaseClient) RecordAccess(ctx context.Context, itemID, ownerID string) error {
	const q = `
		UPDATE items
		SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = $1 AND owner_id = $2
	`
	res, err := c.db.ExecContext(ctx, q, itemID, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (c *DatabaseClient) RecentAccessedChunkEmbeddings(ctx context.Context, ownerID string, limit int) ([][]float32, error) {
	const q = `
		SELECT c.embedding
		FROM chunks c
		JOIN items i ON i.id = c.item_id
		WHERE i.owner_id = $1 AND i.last_accessed_at IS NOT NULL
		ORDER BY i.last_accessed_at DESC, c.position ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var emb pgvector.Vector
		if err := rows.Scan(&emb); err != nil {
			return nil, err
		}
		out = append(out, emb.Slice())
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
