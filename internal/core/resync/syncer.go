package resync

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaushikharsh99/Dropvault/internal/core/ingestion_engine"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

const (
	repoTags       = "github,code,repo"
	readmeLimit    = 5000
	commitsPerRepo = 20
)

// Store is the part of the chunk store a resync writes to. UpsertSyncedItem
// must clear the chunks of an existing item in the same write.
type Store interface {
	UpsertSyncedItem(ctx context.Context, item *models.Item) (string, error)
}

// Enqueuer accepts tasks whose text is already known.
type Enqueuer interface {
	EnqueueEmbed(ctx context.Context, t ingestion_engine.Task) error
}

type Report struct {
	Repos  int `json:"repos"`
	Queued int `json:"queued"`
	Failed int `json:"failed"`
}

// GitHubSyncer mirrors an owner's repositories as link items. Each repository
// is upserted by URL together with dropping its old chunks, and the new text
// goes straight to the embed stage.
type GitHubSyncer struct {
	source   RepoSource
	store    Store
	pipeline Enqueuer
	log      logger.ILogger
}

func NewGitHubSyncer(source RepoSource, store Store, pipeline Enqueuer, log logger.ILogger) *GitHubSyncer {
	return &GitHubSyncer{source: source, store: store, pipeline: pipeline, log: log}
}

func (s *GitHubSyncer) Sync(ctx context.Context, ownerID string) (Report, error) {
	repos, err := s.source.ListRepos(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("github sync: %w", err)
	}

	rep := Report{Repos: len(repos)}
	for _, r := range repos {
		if err := s.syncRepo(ctx, ownerID, r); err != nil {
			rep.Failed++
			s.log.Warn("resync", "repository not synced", map[string]interface{}{
				"repo": r.FullName, "error": err.Error(),
			})
			continue
		}
		rep.Queued++
	}

	s.log.Info("resync", "github sync complete", map[string]interface{}{
		"owner_id": ownerID, "repos": rep.Repos, "queued": rep.Queued, "failed": rep.Failed,
	})
	return rep, nil
}

func (s *GitHubSyncer) syncRepo(ctx context.Context, ownerID string, r Repo) error {
	// commits and README are best effort
	commits, err := s.source.RecentCommits(ctx, r.Owner, r.Name, commitsPerRepo)
	if err != nil {
		s.log.Debug("resync", "commits unavailable", map[string]interface{}{"repo": r.FullName, "error": err.Error()})
	}
	readme, err := s.source.Readme(ctx, r.Owner, r.Name)
	if err != nil {
		s.log.Debug("resync", "readme unavailable", map[string]interface{}{"repo": r.FullName, "error": err.Error()})
	}
	content := RepoContent(r, commits, readme)

	id, err := s.store.UpsertSyncedItem(ctx, &models.Item{
		OwnerID: ownerID,
		Type:    models.ItemTypeLink,
		Locator: r.HTMLURL,
		Title:   r.FullName,
		Content: content,
		Tags:    repoTags,
	})
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}

	return s.pipeline.EnqueueEmbed(ctx, ingestion_engine.Task{
		ItemID:    id,
		OwnerID:   ownerID,
		Type:      models.ItemTypeLink,
		Locator:   r.HTMLURL,
		OCRText:   content,
		MetaTitle: r.FullName,
	})
}

// RepoContent is the text indexed for a repository.
func RepoContent(r Repo, commits []string, readme string) string {
	if rs := []rune(readme); len(rs) > readmeLimit {
		readme = string(rs[:readmeLimit])
	}
	var b strings.Builder
	b.WriteString(r.Description)
	fmt.Fprintf(&b, "\n\nLanguage: %s\nStars: %d", r.Language, r.Stars)
	b.WriteString("\n\n--- Recent Commits ---\n")
	b.WriteString(strings.Join(commits, "\n"))
	b.WriteString("\n\n--- README ---\n")
	b.WriteString(readme)
	return b.String()
}
