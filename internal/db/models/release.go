package models

import (
	"time"

	"github.com/google/uuid"
)

// Release is one ingested GitHub release. The version columns are derived from TagName when
// the row is created and only change through an explicit backfill.
type Release struct {
	ID           uuid.UUID `json:"id" db:"id"`
	PackageID    uuid.UUID `json:"package_id" db:"package_id"`
	TagName      string    `json:"tag_name" db:"tag_name"`
	Title        *string   `json:"title,omitempty" db:"title"`
	Body         *string   `json:"body,omitempty" db:"body"`
	PublishedAt  time.Time `json:"published_at" db:"published_at"`
	FetchedAt    time.Time `json:"fetched_at" db:"fetched_at"`
	MajorVersion int       `json:"major_version" db:"major_version"`
	MinorVersion int       `json:"minor_version" db:"minor_version"`
	PatchVersion int       `json:"patch_version" db:"patch_version"`
	IsPrerelease bool      `json:"is_prerelease" db:"is_prerelease"`
}

// TitleOrTag returns the release title, falling back to the tag when the title is empty.
func (r *Release) TitleOrTag() string {
	if r.Title != nil && *r.Title != "" {
		return *r.Title
	}
	return r.TagName
}

// BodyText returns the release body or "".
func (r *Release) BodyText() string {
	if r.Body == nil {
		return ""
	}
	return *r.Body
}
