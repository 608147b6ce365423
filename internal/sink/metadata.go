package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"db-snap/internal/engine"
	"db-snap/internal/schema"

	"gopkg.in/yaml.v3"
)

type ObjectSummary struct {
	Count int      `json:"count" yaml:"count"`
	Names []string `json:"names" yaml:"names"`
}

type ScriptInfo struct {
	Path       string `json:"path" yaml:"path"`
	Size       int64  `json:"size" yaml:"size"`
	DiskSize   int64  `json:"disk_size" yaml:"disk_size"`
	Statements int    `json:"statements" yaml:"statements"`
	Compressed bool   `json:"compressed" yaml:"compressed"`
	Checksum   string `json:"checksum" yaml:"checksum"`
}

// Metadata describes one export for later auditing.
type Metadata struct {
	Database        string                   `json:"database" yaml:"database"`
	Source          string                   `json:"source" yaml:"source"`
	ServerVersion   string                   `json:"server_version" yaml:"server_version"`
	ExportedAt      time.Time                `json:"exported_at" yaml:"exported_at"`
	Duration        string                   `json:"duration" yaml:"duration"`
	Objects         map[string]ObjectSummary `json:"objects" yaml:"objects"`
	Skipped         []string                 `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	FailedKinds     []string                 `json:"failed_kinds,omitempty" yaml:"failed_kinds,omitempty"`
	Incomplete      []string                 `json:"incomplete_tables,omitempty" yaml:"incomplete_tables,omitempty"`
	Rows            map[string]int64         `json:"rows,omitempty" yaml:"rows,omitempty"`
	Grantees        []string                 `json:"grantees,omitempty" yaml:"grantees,omitempty"`
	SkippedGrantees []string                 `json:"skipped_grantees,omitempty" yaml:"skipped_grantees,omitempty"`
	Script          ScriptInfo               `json:"script" yaml:"script"`
}

// NewMetadata summarises an export report and the committed script file.
func NewMetadata(report *engine.Report, source string, f *File) *Metadata {
	m := &Metadata{
		Database:        report.Database,
		Source:          source,
		ServerVersion:   report.ServerVersion,
		ExportedAt:      report.StartedAt,
		Duration:        report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
		Objects:         make(map[string]ObjectSummary, len(schema.Kinds)),
		Incomplete:      report.Incomplete,
		Rows:            report.Rows,
		Grantees:        report.Grantees,
		SkippedGrantees: report.SkippedGrantees,
	}

	for _, k := range schema.Kinds {
		names := report.Exported[k]
		if names == nil {
			names = []string{}
		}
		m.Objects[k.Plural()] = ObjectSummary{Count: len(names), Names: names}
		if report.Inventory != nil {
			if _, failed := report.Inventory.Failures[k]; failed {
				m.FailedKinds = append(m.FailedKinds, k.Plural())
			}
		}
	}
	for _, ref := range report.Skipped {
		m.Skipped = append(m.Skipped, strings.ToLower(ref.Kind.Keyword())+" "+ref.Name)
	}

	if f != nil {
		m.Script = ScriptInfo{
			Path:       f.Path(),
			Size:       f.Size(),
			Statements: f.Statements(),
			Compressed: f.Compressed(),
			Checksum:   FormatChecksum(f.Checksum()),
		}
		if n, err := f.DiskSize(); err == nil {
			m.Script.DiskSize = n
		}
	}
	return m
}

// FormatChecksum renders an xxh3-64 digest as stored in metadata.
func FormatChecksum(sum uint64) string {
	return fmt.Sprintf("xxh3:%016x", sum)
}

// WriteMetadata stores m at path, as YAML for .yaml/.yml paths and JSON
// otherwise.
func WriteMetadata(path string, m *Metadata) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m)
	default:
		data, err = json.MarshalIndent(m, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads a sidecar written by WriteMetadata.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Metadata
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", path, err)
	}
	return &m, nil
}
