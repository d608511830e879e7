package retrieval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/models"
)

// SearchIntent is a query with its natural-language filters pulled out.
type SearchIntent struct {
	Query       string
	Type        models.ItemType
	Since       *time.Time
	Until       *time.Time
	Description string
}

// HasFilters reports whether the query carried a type or date hint.
func (i SearchIntent) HasFilters() bool {
	return i.Type != "" || i.Since != nil
}

var typeWords = map[string]models.ItemType{
	"video": models.ItemTypeVideo, "videos": models.ItemTypeVideo,
	"image": models.ItemTypeImage, "images": models.ItemTypeImage, "img": models.ItemTypeImage,
	"pic": models.ItemTypeImage, "pics": models.ItemTypeImage,
	"picture": models.ItemTypeImage, "pictures": models.ItemTypeImage,
	"link": models.ItemTypeLink, "links": models.ItemTypeLink, "url": models.ItemTypeLink,
	"urls": models.ItemTypeLink, "website": models.ItemTypeLink,
	"pdf": models.ItemTypePDF, "pdfs": models.ItemTypePDF, "doc": models.ItemTypePDF,
	"docs": models.ItemTypePDF, "document": models.ItemTypePDF,
	"file": models.ItemTypePDF, "files": models.ItemTypePDF,
	"note": models.ItemTypeNote, "notes": models.ItemTypeNote,
	"audio": models.ItemTypeAudio, "audios": models.ItemTypeAudio,
	"voice": models.ItemTypeAudio, "recording": models.ItemTypeAudio,
}

type monthHint struct {
	name  string
	month time.Month
}

// checked in order; full names before their abbreviations
var monthHints = []monthHint{
	{"january", time.January}, {"jan", time.January},
	{"february", time.February}, {"feb", time.February},
	{"march", time.March}, {"mar", time.March},
	{"april", time.April}, {"apr", time.April},
	{"may", time.May},
	{"june", time.June}, {"jun", time.June},
	{"july", time.July}, {"jul", time.July},
	{"august", time.August}, {"aug", time.August},
	{"september", time.September}, {"sept", time.September}, {"sep", time.September},
	{"october", time.October}, {"oct", time.October},
	{"november", time.November}, {"nov", time.November},
	{"december", time.December}, {"dec", time.December},
}

// Monday first, matching the offset arithmetic below.
var weekdayHints = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var (
	relativeRe = regexp.MustCompile(`\b(\d+)\s+(day|week|month|year)s?\s+(ago|before)\b`)
	nonLetter  = regexp.MustCompile(`[^a-z]`)
	wordRe     = map[string]*regexp.Regexp{}
)

func init() {
	for _, phrase := range []string{"last week", "last month", "day before yesterday", "today", "yesterday"} {
		wordRe[phrase] = wholeWord(phrase)
	}
	for _, m := range monthHints {
		wordRe[m.name] = wholeWord(m.name)
	}
	for _, d := range weekdayHints {
		wordRe[d] = wholeWord(d)
	}
}

func wholeWord(s string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\b`)
}

// ParseSearchIntent lowercases the query, removes the first item-type word and
// at most one date hint, and returns what is left with the derived filters.
// Date hints are tried in a fixed order: "N units ago", "last week",
// "last month", "day before yesterday", "today", "yesterday", month names,
// weekday names.
func ParseSearchIntent(query string, now time.Time) SearchIntent {
	q := strings.ToLower(strings.TrimSpace(query))
	var intent SearchIntent
	var desc []string

	words := strings.Fields(q)
	var kept []string
	for _, w := range words {
		if t, ok := typeWords[nonLetter.ReplaceAllString(w, "")]; ok && intent.Type == "" {
			intent.Type = t
			desc = append(desc, "Type: "+string(t))
			continue
		}
		kept = append(kept, w)
	}
	q = strings.Join(kept, " ")

	var start, end time.Time
	found := true
	switch {
	case relativeRe.MatchString(q):
		m := relativeRe.FindStringSubmatch(q)
		n, _ := strconv.Atoi(m[1])
		days := n
		switch m[2] {
		case "week":
			days = n * 7
		case "month":
			days = n * 30
		case "year":
			days = n * 365
		}
		start, end = dayRange(now.AddDate(0, 0, -days))
		desc = append(desc, fmt.Sprintf("%d %s ago", n, plural(m[2], n)))
		q = strings.Replace(q, m[0], "", 1)

	case wordRe["last week"].MatchString(q):
		monday0 := (int(now.Weekday()) + 6) % 7
		s := now.AddDate(0, 0, -(monday0 + 7))
		start, _ = dayRange(s)
		_, end = dayRange(s.AddDate(0, 0, 6))
		desc = append(desc, "last week")
		q = strip(q, "last week")

	case wordRe["last month"].MatchString(q):
		firstThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		start = firstThis.AddDate(0, -1, 0)
		_, end = dayRange(firstThis.AddDate(0, 0, -1))
		desc = append(desc, "last month")
		q = strip(q, "last month")

	case wordRe["day before yesterday"].MatchString(q):
		start, end = dayRange(now.AddDate(0, 0, -2))
		desc = append(desc, "day before yesterday")
		q = strip(q, "day before yesterday")

	case wordRe["today"].MatchString(q):
		start, end = dayRange(now)
		desc = append(desc, "today")
		q = strip(q, "today")

	case wordRe["yesterday"].MatchString(q):
		start, end = dayRange(now.AddDate(0, 0, -1))
		desc = append(desc, "yesterday")
		q = strip(q, "yesterday")

	default:
		found = false
		for _, m := range monthHints {
			if wordRe[m.name].MatchString(q) {
				start = time.Date(now.Year(), m.month, 1, 0, 0, 0, 0, now.Location())
				_, end = dayRange(start.AddDate(0, 1, -1))
				desc = append(desc, "in "+strings.ToUpper(m.name[:1])+m.name[1:])
				q = strip(q, m.name)
				found = true
				break
			}
		}
		if found {
			break
		}
		for i, d := range weekdayHints {
			if wordRe[d].MatchString(q) {
				cur := (int(now.Weekday()) + 6) % 7
				ago := ((cur-i)%7 + 7) % 7
				if ago == 0 {
					ago = 7
				}
				start, end = dayRange(now.AddDate(0, 0, -ago))
				desc = append(desc, strings.ToUpper(d[:1])+d[1:])
				q = strip(q, d)
				found = true
				break
			}
		}
	}

	if found {
		intent.Since, intent.Until = &start, &end
	}
	intent.Query = strings.Join(strings.Fields(q), " ")
	intent.Description = strings.Join(desc, ", ")
	return intent
}

func strip(q, phrase string) string {
	return wordRe[phrase].ReplaceAllString(q, "")
}

func dayRange(t time.Time) (time.Time, time.Time) {
	s := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return s, s.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func plural(unit string, n int) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
