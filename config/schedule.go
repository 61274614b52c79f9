package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// Schedule is the on-disk description of recurring ingestion sessions.
//
//	spec: "@every 6h"
//	queries:
//	  - keyword: evangelion
//	    source: amiami
//	    page_cap: 5
type Schedule struct {
	Spec    string          `yaml:"spec"`
	Queries []ScheduleEntry `yaml:"queries"`
}

// ScheduleEntry is one recurring query.
type ScheduleEntry struct {
	Keyword string `yaml:"keyword"`
	Source  string `yaml:"source"`
	PageCap int    `yaml:"page_cap"`
}

// LoadSchedule reads and validates a YAML schedule file.
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	return ParseSchedule(data)
}

// ParseSchedule decodes a YAML schedule document.
func ParseSchedule(data []byte) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if strings.TrimSpace(s.Spec) == "" {
		s.Spec = "@every 6h"
	}
	if len(s.Queries) == 0 {
		return nil, fmt.Errorf("schedule has no queries")
	}
	for i, q := range s.Queries {
		if strings.TrimSpace(q.Keyword) == "" {
			return nil, fmt.Errorf("schedule query %d: keyword cannot be empty", i)
		}
		kind, err := models.ParseSourceKind(q.Source)
		if err != nil {
			return nil, fmt.Errorf("schedule query %d: %w", i, err)
		}
		if kind == models.SourceAmiAmiItem {
			return nil, fmt.Errorf("schedule query %d: %s is not searchable", i, kind)
		}
		if q.PageCap < 0 {
			return nil, fmt.Errorf("schedule query %d: page cap cannot be negative", i)
		}
	}
	return &s, nil
}

// Query converts the entry into a pipeline query. Entries are validated by
// ParseSchedule, so the source always resolves.
func (e ScheduleEntry) Query() models.Query {
	kind, _ := models.ParseSourceKind(e.Source)
	return models.Query{Keyword: strings.TrimSpace(e.Keyword), Source: kind}
}
