package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"code.sajari.com/docconv"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/kaushikharsh99/Dropvault/internal/core"
)

const (
	maxPageBytes = 5 << 20
	userAgent    = "Mozilla/5.0 (compatible; DropVaultBot/1.0)"
)

// LinkExtractor fetches a web page and pulls its title, preview image and
// readable text. Fetches are throttled so a burst of saved links does not
// hammer remote sites.
type LinkExtractor struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewLinkExtractor(client *http.Client, rps float64) *LinkExtractor {
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &LinkExtractor{client: client, limiter: rate.NewLimiter(limit, 1)}
}

func (l *LinkExtractor) ExtractLink(ctx context.Context, url string) (core.Extraction, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return core.Extraction{}, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.Extraction{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return core.Extraction{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return core.Extraction{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return core.Extraction{}, fmt.Errorf("read %s: %w", url, err)
	}
	return parsePage(page)
}

// parsePage reads OpenGraph metadata with goquery and the body text with docconv.
func parsePage(page []byte) (core.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return core.Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	title := metaContent(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	description := metaContent(doc, "og:description")
	if description == "" {
		description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}
	image := metaContent(doc, "og:image")

	body, _, err := docconv.ConvertHTML(bytes.NewReader(page), true)
	if err != nil {
		// metadata alone is still useful
		body = ""
	}

	var parts []string
	for _, p := range []string{title, description, normalizeText(body)} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return core.Extraction{
		Text:  strings.Join(parts, "\n\n"),
		Title: title,
		Image: image,
	}, nil
}

func metaContent(doc *goquery.Document, property string) string {
	return strings.TrimSpace(doc.Find(`meta[property="` + property + `"]`).AttrOr("content", ""))
}
