// Package models defines the database row types for tracked packages, their releases and
// cached cohort summaries.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Package is a tracked GitHub repository whose releases are ingested.
type Package struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"` // display name, e.g. "vercel/next.js"
	Owner     string    `json:"owner" db:"owner"`
	Repo      string    `json:"repo" db:"repo"`
	TagPrefix *string   `json:"tag_prefix,omitempty" db:"tag_prefix"` // only tags starting with this prefix are ingested

	// Sync state, owned by the ingest engine.
	LastFetchedAt       *time.Time `json:"last_fetched_at,omitempty" db:"last_fetched_at"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	SyncDisabled        bool       `json:"sync_disabled" db:"sync_disabled"`
	LastSyncError       *string    `json:"last_sync_error,omitempty" db:"last_sync_error"`
	PendingFirstSync    bool       `json:"pending_first_sync" db:"pending_first_sync"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MatchesTag reports whether tag passes the package's tag prefix filter.
func (p *Package) MatchesTag(tag string) bool {
	if p.TagPrefix == nil || *p.TagPrefix == "" {
		return true
	}
	return strings.HasPrefix(tag, *p.TagPrefix)
}

// Watermark returns the publish time of the newest ingested release, or the zero time when
// the package has never synced.
func (p *Package) Watermark() time.Time {
	if p.LastFetchedAt == nil {
		return time.Time{}
	}
	return *p.LastFetchedAt
}
