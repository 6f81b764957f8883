package memory

import (
	"time"

	"github.com/google/uuid"
)

// Content is the open, category-dependent payload of an entry. Values may be
// scalars, nested maps, or slices of either. Consumers probe by key and
// tolerate absence; new categories appear without code changes.
type Content = map[string]any

// MemoryEntry is one persisted unit of learned information.
//
// CreatedAt is kept as the original RFC3339 string; it may carry a timezone
// offset or be offset-less (UTC implied). All age arithmetic goes through
// parseEntryTime so the two forms mix safely.
type MemoryEntry struct {
	ID          string   `json:"id" yaml:"id"`
	Category    string   `json:"category" yaml:"category"`
	FeatureID   string   `json:"feature_id" yaml:"feature_id"`
	IssueNumber *int     `json:"issue_number,omitempty" yaml:"issue_number,omitempty"`
	Content     Content  `json:"content" yaml:"content"`
	Outcome     string   `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	CreatedAt   string   `json:"created_at" yaml:"created_at"`
	Tags        []string `json:"tags" yaml:"tags"`
	HitCount    int      `json:"hit_count" yaml:"hit_count"`
}

// NewEntry creates an entry with a fresh UUID and a UTC timestamp.
// Content and Tags are never nil on a constructed entry.
func NewEntry(category, featureID string, content Content) *MemoryEntry {
	if content == nil {
		content = Content{}
	}
	return &MemoryEntry{
		ID:        uuid.New().String(),
		Category:  category,
		FeatureID: featureID,
		Content:   content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Tags:      []string{},
	}
}

// ToDict converts the entry to an open map. Optional fields that are unset
// are omitted so FromDict restores them as unset.
func (e *MemoryEntry) ToDict() map[string]any {
	d := map[string]any{
		"id":         e.ID,
		"category":   e.Category,
		"feature_id": e.FeatureID,
		"content":    e.Content,
		"created_at": e.CreatedAt,
		"tags":       e.Tags,
		"hit_count":  e.HitCount,
	}
	if e.IssueNumber != nil {
		d["issue_number"] = *e.IssueNumber
	}
	if e.Outcome != "" {
		d["outcome"] = e.Outcome
	}
	return d
}

// FromDict rebuilds an entry from an open map, tolerating the numeric type
// loosening JSON decoding introduces (float64 for ints).
func FromDict(d map[string]any) *MemoryEntry {
	e := &MemoryEntry{
		ID:        stringValue(d["id"]),
		Category:  stringValue(d["category"]),
		FeatureID: stringValue(d["feature_id"]),
		Outcome:   stringValue(d["outcome"]),
		CreatedAt: stringValue(d["created_at"]),
		Content:   Content{},
		Tags:      []string{},
	}
	if n, ok := intValue(d["issue_number"]); ok {
		e.IssueNumber = &n
	}
	if n, ok := intValue(d["hit_count"]); ok {
		e.HitCount = n
	}
	if c, ok := d["content"].(map[string]any); ok && c != nil {
		e.Content = c
	}
	e.Tags = stringSlice(d["tags"])
	return e
}

// ClassName returns the class the entry refers to, probing the primary key
// first and falling back to the synonym used by older producers.
func (e *MemoryEntry) ClassName() string {
	if v := e.StringField("class_name"); v != "" {
		return v
	}
	return e.StringField("class")
}

// Resolution returns the recorded resolution text, if any.
func (e *MemoryEntry) Resolution() string {
	return e.StringField("resolution")
}

// suggestionKeys is the fixed priority order for extracting a suggestion
// string from entry content. First present key wins.
var suggestionKeys = []string{"solution", "fix", "suggestion", "action", "description", "resolution"}

// Suggestion returns the remediation text this entry contributes to
// recommendations, or "" when no known key is present.
func (e *MemoryEntry) Suggestion() string {
	for _, k := range suggestionKeys {
		if v := e.StringField(k); v != "" {
			return v
		}
	}
	return ""
}

// StringField returns the string value stored under key, or "" when the key
// is absent or holds a non-string.
func (e *MemoryEntry) StringField(key string) string {
	if e.Content == nil {
		return ""
	}
	v, _ := e.Content[key].(string)
	return v
}

// CreatedTime parses CreatedAt normalized to UTC. Unparsable timestamps fall
// back to the supplied time so a damaged entry never breaks age arithmetic.
func (e *MemoryEntry) CreatedTime(fallback time.Time) time.Time {
	if t, ok := parseEntryTime(e.CreatedAt); ok {
		return t
	}
	return fallback
}

// entryTimeLayouts covers offset-carrying and naive ISO-8601 forms.
// Naive timestamps are interpreted as UTC.
var entryTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseEntryTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range entryTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return []string{}
		}
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
