package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/core"
)

// SidecarClient drives a local GPU inference server. The server keeps at most
// the models it was told to load; residency is controlled by explicit
// load/unload calls so the arbiter can free accelerator memory deterministically.
type SidecarClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewSidecarClient(baseURL string, timeout time.Duration) *SidecarClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SidecarClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
	}
}

// Vision returns the vision family (captioning + object detection).
func (c *SidecarClient) Vision() *VisionFamily { return &VisionFamily{c: c} }

// Speech returns the speech-to-text family.
func (c *SidecarClient) Speech() *SpeechFamily { return &SpeechFamily{c: c} }

type VisionFamily struct{ c *SidecarClient }

func (v *VisionFamily) Load(ctx context.Context) error {
	return v.c.post(ctx, "/models/vision/load", nil, nil)
}

func (v *VisionFamily) Unload(ctx context.Context) error {
	return v.c.post(ctx, "/models/vision/unload", nil, nil)
}

func (v *VisionFamily) AnalyzeImages(ctx context.Context, paths []string) ([]core.VisionResult, error) {
	var resp struct {
		Results []struct {
			Caption string   `json:"caption"`
			Tags    []string `json:"tags"`
		} `json:"results"`
	}
	if err := v.c.post(ctx, "/vision/analyze", map[string]any{"paths": paths}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(paths) {
		return nil, fmt.Errorf("vision analyze: got %d results for %d images", len(resp.Results), len(paths))
	}
	out := make([]core.VisionResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = core.VisionResult{Caption: r.Caption, Tags: r.Tags}
	}
	return out, nil
}

type SpeechFamily struct{ c *SidecarClient }

func (s *SpeechFamily) Load(ctx context.Context) error {
	return s.c.post(ctx, "/models/speech/load", nil, nil)
}

func (s *SpeechFamily) Unload(ctx context.Context) error {
	return s.c.post(ctx, "/models/speech/unload", nil, nil)
}

func (s *SpeechFamily) Transcribe(ctx context.Context, path string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := s.c.post(ctx, "/speech/transcribe", map[string]any{"path": path}, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *SidecarClient) post(ctx context.Context, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

var (
	_ core.VisionModel = (*VisionFamily)(nil)
	_ core.SpeechModel = (*SpeechFamily)(nil)
)
