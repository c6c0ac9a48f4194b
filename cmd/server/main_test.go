package main

import (
	"context"
	"strings"
	"testing"

	"github.com/changefeed/changefeed/internal/cohort"
	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/db/repositories"
)

func TestVersionFields(t *testing.T) {
	tests := []struct {
		tag  string
		want repositories.VersionFields
	}{
		{"v15.1.0", repositories.VersionFields{Major: 15, Minor: 1, Patch: 0}},
		{"v2.0.0-rc.1", repositories.VersionFields{Major: 2, IsPrerelease: true}},
		{"@scope/pkg@3.4.5", repositories.VersionFields{Major: 3, Minor: 4, Patch: 5}},
		{"nightly", repositories.VersionFields{Major: -1, Minor: 0, Patch: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got := versionFields(tt.tag)
			if got.Major != tt.want.Major || got.IsPrerelease != tt.want.IsPrerelease {
				t.Errorf("versionFields(%q) = %+v, want %+v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestCohortHeading(t *testing.T) {
	tests := []struct {
		key  cohort.Key
		want string
	}{
		{cohort.Key{MajorVersion: 15}, "v15"},
		{cohort.Key{MajorVersion: 16, IsPrerelease: true}, "v16 (pre-release)"},
		{cohort.Key{MajorVersion: -1}, "unversioned"},
	}
	for _, tt := range tests {
		if got := cohortHeading(&cohort.Cohort{Key: tt.key}); got != tt.want {
			t.Errorf("cohortHeading(%+v) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestWriteSummary_WithoutGenerator(t *testing.T) {
	fc := &cohort.FeedCohort{Cohort: &cohort.Cohort{Key: cohort.Key{MajorVersion: 1}}}

	var b strings.Builder
	if err := writeSummary(context.Background(), nil, "pkg", fc, &b); err != nil {
		t.Fatal(err)
	}
	if b.String() != "(no summary)\n" {
		t.Errorf("got %q", b.String())
	}

	b.Reset()
	fc.Summary = &models.CohortSummary{Summary: "cached text"}
	if err := writeSummary(context.Background(), nil, "pkg", fc, &b); err != nil {
		t.Fatal(err)
	}
	if b.String() != "cached text\n" {
		t.Errorf("got %q", b.String())
	}
}
