package retrieval

import (
	"strings"
	"unicode"
)

var synonyms = map[string][]string{
	"diagram":    {"chart", "figure", "visual"},
	"whiteboard": {"board", "presentation", "lecture"},
	"meeting":    {"discussion", "call", "sync"},
	"notes":      {"summary", "points", "writing"},
	"image":      {"photo", "picture", "screenshot", "visual"},
	"video":      {"recording", "clip", "movie"},
	"audio":      {"voice", "speech", "sound", "recording"},
	"code":       {"script", "program", "source"},
	"ai":         {"machine learning", "neural network", "intelligence"},
	"money":      {"revenue", "price", "cost", "billing"},
	"work":       {"task", "project", "job"},
}

var (
	visualHints = set("diagram", "image", "photo", "picture", "screenshot", "visual", "chart", "figure", "whiteboard", "see", "look", "show")
	audioHints  = set("said", "audio", "voice", "speech", "talk", "heard", "mention", "podcast", "meeting", "call")
)

// ExpandQuery returns the query's words followed by their synonyms, lowercased
// and without duplicates. The original words always come first.
func ExpandQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	add := func(w string) {
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	for _, w := range words {
		add(w)
	}
	for _, w := range words {
		for _, syn := range synonyms[clean(w)] {
			add(syn)
		}
	}
	return out
}

type modality int

const (
	modalityNone modality = iota
	modalityVisual
	modalityAudio
)

// queryModality looks for words that hint the user remembers seeing or hearing
// the content. Visual wins when both appear.
func queryModality(query string) modality {
	audio := false
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = clean(w)
		if _, ok := visualHints[w]; ok {
			return modalityVisual
		}
		if _, ok := audioHints[w]; ok {
			audio = true
		}
	}
	if audio {
		return modalityAudio
	}
	return modalityNone
}

// keywords are the distinct words longer than three letters.
func keywords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

func clean(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
