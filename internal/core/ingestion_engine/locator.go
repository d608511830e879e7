package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kaushikharsh99/Dropvault/internal/core"
)

var (
	// ErrRemoteLocator is returned when a web URL is asked for as a local file.
	ErrRemoteLocator = errors.New("locator is a remote url")
	ErrOutsideRoot   = errors.New("locator escapes storage root")
)

// LocatorResolver turns stored locators into files readable on this host.
// Uploaded files live under the storage root (optionally addressed as
// "/uploads/..."); objects in S3 are downloaded into a per-item cache directory.
type LocatorResolver struct {
	root     string
	cacheDir string
	objects  core.ObjectClient
}

func NewLocatorResolver(root string, objects core.ObjectClient) *LocatorResolver {
	return &LocatorResolver{
		root:     filepath.Clean(root),
		cacheDir: filepath.Join(os.TempDir(), "dropvault-cache"),
		objects:  objects,
	}
}

// IsRemote reports whether the locator is a web resource rather than stored content.
func (r *LocatorResolver) IsRemote(loc string) bool {
	if !strings.HasPrefix(loc, "http://") && !strings.HasPrefix(loc, "https://") {
		return false
	}
	_, _, ok := parseS3URL(loc)
	return !ok
}

// Resolve returns a local path for loc. Empty locators resolve to "".
func (r *LocatorResolver) Resolve(ctx context.Context, itemID, loc string) (string, error) {
	if loc == "" {
		return "", nil
	}
	if bucket, key, ok := parseS3URL(loc); ok {
		if r.objects == nil {
			return "", fmt.Errorf("resolve %s: object storage not configured", loc)
		}
		dst := filepath.Join(r.cacheDir, itemID, path.Base(key))
		if err := r.objects.DownloadToFile(ctx, bucket, key, dst); err != nil {
			return "", err
		}
		return dst, nil
	}
	if r.IsRemote(loc) {
		return "", ErrRemoteLocator
	}

	var p string
	switch {
	case strings.HasPrefix(loc, "/uploads/"):
		p = filepath.Join(r.root, strings.TrimPrefix(loc, "/uploads/"))
	case filepath.IsAbs(loc):
		p = filepath.Clean(loc)
	default:
		p = filepath.Join(r.root, loc)
		if rel, err := filepath.Rel(r.root, p); err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, loc)
		}
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("resolve %s: %w", loc, err)
	}
	return p, nil
}

// Cleanup drops any files downloaded for the item.
func (r *LocatorResolver) Cleanup(itemID string) {
	if itemID == "" {
		return
	}
	_ = os.RemoveAll(filepath.Join(r.cacheDir, itemID))
}

// parseS3URL accepts s3://bucket/key and virtual-hosted style
// https://bucket.s3.<region>.amazonaws.com/key locators.
func parseS3URL(u string) (bucket, key string, ok bool) {
	if rest, found := strings.CutPrefix(u, "s3://"); found {
		bucket, key, _ = strings.Cut(rest, "/")
		return bucket, key, bucket != "" && key != ""
	}

	rest, found := strings.CutPrefix(u, "https://")
	if !found {
		return "", "", false
	}
	host, key, _ := strings.Cut(rest, "/")
	if !strings.HasSuffix(host, ".amazonaws.com") || !strings.Contains(host, ".s3.") {
		return "", "", false
	}
	bucket, _, _ = strings.Cut(host, ".")
	return bucket, key, bucket != "" && key != ""
}
