package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kaushikharsh99/Dropvault/internal/core"
)

const visionPrompt = `Describe this image in one sentence and list the distinct objects you can see.
Reply with JSON only: {"caption": "...", "tags": ["object", ...]}`

// GeminiVision captions images with a hosted multimodal model. The model is
// never resident locally so Load and Unload have nothing to do.
type GeminiVision struct {
	client    *genai.Client
	modelName string
}

func NewGeminiVision(ctx context.Context, apiKey, modelName string) (*GeminiVision, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiVision{client: cl, modelName: modelName}, nil
}

func (g *GeminiVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiVision) Load(context.Context) error   { return nil }
func (g *GeminiVision) Unload(context.Context) error { return nil }

func (g *GeminiVision) AnalyzeImages(ctx context.Context, paths []string) ([]core.VisionResult, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.ResponseMIMEType = "application/json"

	out := make([]core.VisionResult, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", p, err)
		}

		resp, err := m.GenerateContent(ctx, genai.ImageData(imageFormat(p), data), genai.Text(visionPrompt))
		if err != nil {
			return nil, fmt.Errorf("gemini generate: %w", err)
		}
		res, err := parseVisionReply(responseText(resp))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func parseVisionReply(raw string) (core.VisionResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")
	if strings.TrimSpace(raw) == "" {
		return core.VisionResult{}, nil
	}

	var reply struct {
		Caption string   `json:"caption"`
		Tags    []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return core.VisionResult{}, fmt.Errorf("decode vision reply: %w", err)
	}
	return core.VisionResult{Caption: strings.TrimSpace(reply.Caption), Tags: reply.Tags}, nil
}

// imageFormat maps a file extension to the format genai.ImageData expects.
func imageFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	case ".gif":
		return "gif"
	default:
		return "jpeg"
	}
}

var _ core.VisionModel = (*GeminiVision)(nil)
