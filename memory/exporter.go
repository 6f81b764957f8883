package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// exportVersion tags the export envelope format.
const exportVersion = "1.0"

// ErrInvalidInput reports a malformed import payload. Unlike the store's
// silent snapshot loading, imports are user-initiated and surface errors.
var ErrInvalidInput = errors.New("invalid input")

// ExportMetadata describes an export envelope.
type ExportMetadata struct {
	Version    string `json:"version" yaml:"version"`
	ExportedAt string `json:"exported_at" yaml:"exported_at"`
	EntryCount int    `json:"entry_count" yaml:"entry_count"`
}

type exportEnvelope struct {
	Metadata ExportMetadata `json:"metadata" yaml:"metadata"`
	Entries  []*MemoryEntry `json:"entries" yaml:"entries"`
}

// MemoryExporter moves store contents across the process boundary as JSON
// or YAML envelopes.
type MemoryExporter struct {
	store  *MemoryStore
	logger *zap.Logger
}

// NewMemoryExporter creates an exporter over store.
func NewMemoryExporter(store *MemoryStore, logger *zap.Logger) *MemoryExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryExporter{
		store:  store,
		logger: logger.With(zap.String("component", "memory_exporter")),
	}
}

// ExportJSON writes the store's entries to path as a JSON envelope,
// creating parent directories as needed.
func (x *MemoryExporter) ExportJSON(path string) error {
	data, err := json.MarshalIndent(x.envelope(), "", "  ")
	if err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return x.writeFile(path, data)
}

// ExportYAML writes the store's entries to path as a YAML envelope.
func (x *MemoryExporter) ExportYAML(path string) error {
	data, err := yaml.Marshal(x.envelope())
	if err != nil {
		return fmt.Errorf("export yaml: %w", err)
	}
	return x.writeFile(path, data)
}

// ImportJSON reads a JSON envelope. With replace set the store is emptied
// first; otherwise imported entries merge into the existing set, imported
// entries winning id collisions. Returns the number of imported entries.
func (x *MemoryExporter) ImportJSON(path string, replace bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("import json: %w", err)
	}
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("import json: %w: %v", ErrInvalidInput, err)
	}
	return x.apply(env, replace), nil
}

// ImportYAML reads a YAML envelope with the same semantics as ImportJSON.
func (x *MemoryExporter) ImportYAML(path string, replace bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("import yaml: %w", err)
	}
	var env exportEnvelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("import yaml: %w: %v", ErrInvalidInput, err)
	}
	return x.apply(env, replace), nil
}

func (x *MemoryExporter) envelope() exportEnvelope {
	entries := x.store.scan("")
	return exportEnvelope{
		Metadata: ExportMetadata{
			Version:    exportVersion,
			ExportedAt: x.store.clock().UTC().Format(time.RFC3339),
			EntryCount: len(entries),
		},
		Entries: entries,
	}
}

func (x *MemoryExporter) apply(env exportEnvelope, replace bool) int {
	if replace {
		x.store.Clear()
	}
	imported := 0
	for _, e := range env.Entries {
		if e == nil || e.ID == "" {
			continue
		}
		if e.Content == nil {
			e.Content = Content{}
		}
		if e.Tags == nil {
			e.Tags = []string{}
		}
		x.store.Add(e)
		imported++
	}
	x.logger.Info("entries imported",
		zap.Int("imported", imported),
		zap.Bool("replace", replace))
	return imported
}

func (x *MemoryExporter) writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	x.logger.Debug("export written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
