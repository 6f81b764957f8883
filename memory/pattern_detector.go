package memory

import (
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// verificationCategory is the fixed category of the detector's
// success/failure ledger entries.
const verificationCategory = "verification_pattern"

// PatternOptions tunes pattern detection.
type PatternOptions struct {
	// MinOccurrences is the smallest group size that counts as a pattern.
	// Single occurrences are never patterns. Default 2.
	MinOccurrences int `json:"min_occurrences" yaml:"min_occurrences"`

	// MaxOccurrences saturates the occurrence term of the confidence score.
	// Default 10.
	MaxOccurrences int `json:"max_occurrences" yaml:"max_occurrences"`

	// WindowDays restricts detection to entries created within the window.
	// Zero or negative means unbounded.
	WindowDays int `json:"window_days" yaml:"window_days"`

	// GroupBySubtype adds the secondary key (drift type, module path, error
	// type) to the grouping key.
	GroupBySubtype bool `json:"group_by_subtype" yaml:"group_by_subtype"`
}

// DefaultPatternOptions returns the default detection options.
func DefaultPatternOptions() PatternOptions {
	return PatternOptions{
		MinOccurrences: 2,
		MaxOccurrences: 10,
	}
}

func (o PatternOptions) normalized() PatternOptions {
	if o.MinOccurrences <= 0 {
		o.MinOccurrences = 2
	}
	if o.MaxOccurrences <= 0 {
		o.MaxOccurrences = 10
	}
	return o
}

// DriftPattern is a recurring schema drift for one class.
type DriftPattern struct {
	ClassName       string   `json:"class_name"`
	DriftType       string   `json:"drift_type,omitempty"`
	OccurrenceCount int      `json:"occurrence_count"`
	Confidence      float64  `json:"confidence"`
	EntryIDs        []string `json:"entry_ids"`
}

// FixPattern is a recurring fix type, optionally per module.
type FixPattern struct {
	FixType         string   `json:"fix_type"`
	ModulePath      string   `json:"module_path,omitempty"`
	OccurrenceCount int      `json:"occurrence_count"`
	Confidence      float64  `json:"confidence"`
	EntryIDs        []string `json:"entry_ids"`
}

// FailurePattern is a recurring failure for one test path.
type FailurePattern struct {
	TestPath        string   `json:"test_path"`
	ErrorType       string   `json:"error_type,omitempty"`
	OccurrenceCount int      `json:"occurrence_count"`
	Confidence      float64  `json:"confidence"`
	EntryIDs        []string `json:"entry_ids"`
}

// DetectedPattern is the unified detection output.
type DetectedPattern struct {
	Category        string   `json:"category"`
	Key             string   `json:"key"`
	OccurrenceCount int      `json:"occurrence_count"`
	Confidence      float64  `json:"confidence"`
	EntryIDs        []string `json:"entry_ids"`
	CommonTags      []string `json:"common_tags"`
}

// PatternDetector groups historical entries by derived keys within a time
// window and scores group confidence by occurrence count and recency. It
// reads the store through uncounted scans: detection never inflates hit
// counts.
type PatternDetector struct {
	store  *MemoryStore
	logger *zap.Logger
}

// NewPatternDetector creates a detector over store.
func NewPatternDetector(store *MemoryStore, logger *zap.Logger) *PatternDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternDetector{
		store:  store,
		logger: logger.With(zap.String("component", "pattern_detector")),
	}
}

// DetectRecurringSchemaDrift groups schema_drift entries by class name
// (probing class_name, then class) and optionally drift type.
func (d *PatternDetector) DetectRecurringSchemaDrift(opts PatternOptions) []DriftPattern {
	opts = opts.normalized()
	now := d.store.clock()
	groups := d.group("schema_drift", opts, now, func(e *MemoryEntry) (groupKey, bool) {
		name := e.ClassName()
		if name == "" {
			return groupKey{}, false
		}
		k := groupKey{primary: name}
		if opts.GroupBySubtype {
			k.secondary = e.StringField("drift_type")
		}
		return k, true
	})

	out := make([]DriftPattern, 0, len(groups))
	for _, g := range groups {
		out = append(out, DriftPattern{
			ClassName:       g.key.primary,
			DriftType:       g.key.secondary,
			OccurrenceCount: len(g.entries),
			Confidence:      g.confidence(opts.MaxOccurrences, now),
			EntryIDs:        g.ids(),
		})
	}
	sortPatternsByConfidence(out, func(p DriftPattern) float64 { return p.Confidence })
	return out
}

// DetectFixPatterns groups recovery_pattern entries by fix type and
// optionally by the parent directory of the fixed file.
func (d *PatternDetector) DetectFixPatterns(opts PatternOptions) []FixPattern {
	opts = opts.normalized()
	now := d.store.clock()
	groups := d.group("recovery_pattern", opts, now, func(e *MemoryEntry) (groupKey, bool) {
		fixType := e.StringField("fix_type")
		if fixType == "" {
			return groupKey{}, false
		}
		k := groupKey{primary: fixType}
		if opts.GroupBySubtype {
			if target := e.StringField("target_file"); target != "" {
				k.secondary = path.Dir(target)
			}
		}
		return k, true
	})

	out := make([]FixPattern, 0, len(groups))
	for _, g := range groups {
		out = append(out, FixPattern{
			FixType:         g.key.primary,
			ModulePath:      g.key.secondary,
			OccurrenceCount: len(g.entries),
			Confidence:      g.confidence(opts.MaxOccurrences, now),
			EntryIDs:        g.ids(),
		})
	}
	sortPatternsByConfidence(out, func(p FixPattern) float64 { return p.Confidence })
	return out
}

// DetectTestFailurePatterns groups test_failure entries by test path and
// optionally error type.
func (d *PatternDetector) DetectTestFailurePatterns(opts PatternOptions) []FailurePattern {
	opts = opts.normalized()
	now := d.store.clock()
	groups := d.group("test_failure", opts, now, func(e *MemoryEntry) (groupKey, bool) {
		testPath := e.StringField("test_path")
		if testPath == "" {
			return groupKey{}, false
		}
		k := groupKey{primary: testPath}
		if opts.GroupBySubtype {
			k.secondary = e.StringField("error_type")
		}
		return k, true
	})

	out := make([]FailurePattern, 0, len(groups))
	for _, g := range groups {
		out = append(out, FailurePattern{
			TestPath:        g.key.primary,
			ErrorType:       g.key.secondary,
			OccurrenceCount: len(g.entries),
			Confidence:      g.confidence(opts.MaxOccurrences, now),
			EntryIDs:        g.ids(),
		})
	}
	sortPatternsByConfidence(out, func(p FailurePattern) float64 { return p.Confidence })
	return out
}

// unifiedKeyFields maps each category the unified API understands to the
// content key that derives its grouping key.
var unifiedKeyFields = map[string]string{
	"test_failure": "error_type",
	"schema_drift": "conflict_type",
	"bug_pattern":  "bug_type",
}

// DetectPatterns runs unified detection across every category with a known
// derived key, tagging each surviving group with the tags common to all of
// its members.
func (d *PatternDetector) DetectPatterns(opts PatternOptions) []DetectedPattern {
	opts = opts.normalized()
	now := d.store.clock()

	categories := make([]string, 0, len(unifiedKeyFields))
	for c := range unifiedKeyFields {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	out := make([]DetectedPattern, 0)
	for _, category := range categories {
		field := unifiedKeyFields[category]
		groups := d.group(category, opts, now, func(e *MemoryEntry) (groupKey, bool) {
			v := e.StringField(field)
			if v == "" {
				return groupKey{}, false
			}
			return groupKey{primary: v}, true
		})
		for _, g := range groups {
			out = append(out, DetectedPattern{
				Category:        category,
				Key:             g.key.primary,
				OccurrenceCount: len(g.entries),
				Confidence:      g.confidence(opts.MaxOccurrences, now),
				EntryIDs:        g.ids(),
				CommonTags:      commonTags(g.entries),
			})
		}
	}
	sortPatternsByConfidence(out, func(p DetectedPattern) float64 { return p.Confidence })
	return out
}

// RecordSuccessPattern stores a verification ledger entry for a passing
// outcome and returns it.
func (d *PatternDetector) RecordSuccessPattern(testPath, featureID string, details Content) *MemoryEntry {
	return d.recordVerification(testPath, featureID, "success", details)
}

// RecordFailurePattern stores a verification ledger entry for a failing
// outcome and returns it.
func (d *PatternDetector) RecordFailurePattern(testPath, featureID string, details Content) *MemoryEntry {
	return d.recordVerification(testPath, featureID, "failure", details)
}

func (d *PatternDetector) recordVerification(testPath, featureID, result string, details Content) *MemoryEntry {
	content := Content{}
	for k, v := range details {
		content[k] = v
	}
	content["test_path"] = testPath
	content["result"] = result

	e := &MemoryEntry{
		ID:        uuid.New().String(),
		Category:  verificationCategory,
		FeatureID: featureID,
		Content:   content,
		CreatedAt: d.store.clock().UTC().Format(time.RFC3339),
		Tags:      []string{},
	}
	d.store.Add(e)
	d.logger.Debug("verification pattern recorded",
		zap.String("id", e.ID),
		zap.String("test_path", testPath),
		zap.String("result", result))
	return e
}

// LinkFixToFailure attaches a fix description to a prior failure entry,
// mutating the stored entry's content in place through the shared
// reference. It reports whether the entry was found.
func (d *PatternDetector) LinkFixToFailure(failureEntryID, fixDescription string) bool {
	e, ok := d.store.Get(failureEntryID)
	if !ok {
		return false
	}
	e.Content["fix_description"] = fixDescription
	return true
}

// GetVerificationPatterns filters ledger entries by test path, feature and
// result. Empty arguments do not filter. Reads here are uncounted.
func (d *PatternDetector) GetVerificationPatterns(testPath, featureID, result string) []*MemoryEntry {
	out := make([]*MemoryEntry, 0)
	for _, e := range d.store.scan(verificationCategory) {
		if testPath != "" && e.StringField("test_path") != testPath {
			continue
		}
		if featureID != "" && e.FeatureID != featureID {
			continue
		}
		if result != "" && e.StringField("result") != result {
			continue
		}
		out = append(out, e)
	}
	return out
}

type groupKey struct {
	primary   string
	secondary string
}

type patternGroup struct {
	key     groupKey
	entries []*MemoryEntry
}

func (g *patternGroup) ids() []string {
	ids := make([]string, 0, len(g.entries))
	for _, e := range g.entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// confidence blends saturation-capped occurrence count with recency:
// 0.7*min(n/max, 1) + 0.3*(1 / (1 + avgAgeDays/30)), clamped to [0,1].
// More members and younger members both strictly raise the score.
func (g *patternGroup) confidence(maxOccurrences int, now time.Time) float64 {
	occurrence := float64(len(g.entries)) / float64(maxOccurrences)
	if occurrence > 1 {
		occurrence = 1
	}

	totalAge := 0.0
	counted := 0
	for _, e := range g.entries {
		if created, ok := parseEntryTime(e.CreatedAt); ok {
			age := now.UTC().Sub(created).Hours() / 24
			if age < 0 {
				age = 0
			}
			totalAge += age
			counted++
		}
	}
	avgAgeDays := 0.0
	if counted > 0 {
		avgAgeDays = totalAge / float64(counted)
	}

	score := 0.7*occurrence + 0.3*(1/(1+avgAgeDays/30))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// group pulls a category, applies the window, buckets by the derived key and
// drops groups below the occurrence minimum. Group order follows first
// encounter so output is deterministic before the confidence sort.
func (d *PatternDetector) group(category string, opts PatternOptions, now time.Time, keyFn func(*MemoryEntry) (groupKey, bool)) []*patternGroup {
	var cutoff time.Time
	if opts.WindowDays > 0 {
		cutoff = now.UTC().Add(-time.Duration(opts.WindowDays) * 24 * time.Hour)
	}

	byKey := make(map[groupKey]*patternGroup)
	ordered := make([]*patternGroup, 0)
	for _, e := range d.store.scan(category) {
		if !cutoff.IsZero() {
			created, ok := parseEntryTime(e.CreatedAt)
			if !ok || created.Before(cutoff) {
				continue
			}
		}
		key, ok := keyFn(e)
		if !ok {
			continue
		}
		g, exists := byKey[key]
		if !exists {
			g = &patternGroup{key: key}
			byKey[key] = g
			ordered = append(ordered, g)
		}
		g.entries = append(g.entries, e)
	}

	out := make([]*patternGroup, 0, len(ordered))
	for _, g := range ordered {
		if len(g.entries) >= opts.MinOccurrences {
			out = append(out, g)
		}
	}
	return out
}

// commonTags intersects the (lowercased) tag sets of every member; the
// result is empty as soon as any member shares nothing with the rest.
func commonTags(entries []*MemoryEntry) []string {
	if len(entries) == 0 {
		return []string{}
	}
	common := lowerSet(entries[0].Tags)
	for _, e := range entries[1:] {
		if len(common) == 0 {
			break
		}
		tags := lowerSet(e.Tags)
		for t := range common {
			if _, ok := tags[t]; !ok {
				delete(common, t)
			}
		}
	}
	out := sortedKeys(common)
	return out
}

func sortPatternsByConfidence[T any](patterns []T, confidence func(T) float64) {
	sort.SliceStable(patterns, func(i, j int) bool {
		return confidence(patterns[i]) > confidence(patterns[j])
	})
}
