package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// MetaVersion is the current scan summary format.
	MetaVersion = 1

	metaFile = "index-meta.json"
)

// Meta summarises the last completed workspace scan.
type Meta struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	FileCount int       `json:"fileCount"`
	Reused    int       `json:"reused"`
	Failed    int       `json:"failed"`
	Duration  string    `json:"duration"`
	Store     string    `json:"store,omitempty"`
}

// Freshness says whether the summary still describes the workspace.
type Freshness struct {
	Fresh  bool   `json:"fresh"`
	Reason string `json:"reason,omitempty"`
}

// LoadMeta reads the summary from dir. No file, or a file written by a
// different format version, yields (nil, nil).
func LoadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing index metadata: %w", err)
	}
	if m.Version != MetaVersion {
		return nil, nil
	}
	return &m, nil
}

// Save writes the summary to dir.
func (m *Meta) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	m.Version = MetaVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// CheckFreshness compares the scan time with the newest modification time
// among workspace files and the number of files found now.
func (m *Meta) CheckFreshness(newest time.Time, fileCount int) Freshness {
	if m == nil {
		return Freshness{Reason: "no index metadata found"}
	}
	if newest.After(m.CreatedAt) {
		return Freshness{Reason: fmt.Sprintf("files changed %s after the last scan", humanDuration(newest.Sub(m.CreatedAt)))}
	}
	if fileCount != m.FileCount {
		return Freshness{Reason: fmt.Sprintf("workspace has %d files, index has %d", fileCount, m.FileCount)}
	}
	return Freshness{Fresh: true}
}

// Age describes how long ago the scan ran.
func (m *Meta) Age(now time.Time) string {
	return humanDuration(now.Sub(m.CreatedAt))
}

func humanDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}
