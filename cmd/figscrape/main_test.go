package main

import (
	"testing"

	"github.com/aluiziolira/go-scrape-figures/models"
)

func TestBuildJobs(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		keyword string
		item    string
		want    []models.SourceKind
		wantErr bool
	}{
		{name: "all sources", source: "all", keyword: "evangelion", want: []models.SourceKind{models.SourceAmiAmi, models.SourceHLJ}},
		{name: "single source", source: "HLJ", keyword: "zaku", want: []models.SourceKind{models.SourceHLJ}},
		{name: "item refresh ignores source", source: "hlj", item: "FIGURE-172136", want: []models.SourceKind{models.SourceAmiAmiItem}},
		{name: "missing keyword", source: "all", wantErr: true},
		{name: "unknown source", source: "ebay", keyword: "zaku", wantErr: true},
		{name: "item source needs -item", source: "amiami-item", keyword: "zaku", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := buildJobs(tt.source, tt.keyword, tt.item, 5, 10)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d jobs", len(jobs))
				}
				return
			}
			if err != nil {
				t.Fatalf("build jobs: %v", err)
			}
			if len(jobs) != len(tt.want) {
				t.Fatalf("jobs = %d, want %d", len(jobs), len(tt.want))
			}
			for i, job := range jobs {
				if job.Query.Source != tt.want[i] {
					t.Fatalf("jobs[%d] source = %s, want %s", i, job.Query.Source, tt.want[i])
				}
				if job.Limits.PageCap != 5 || job.Limits.ResultCap != 10 {
					t.Fatalf("jobs[%d] limits = %+v", i, job.Limits)
				}
			}
		})
	}
}
