package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/changefeed/changefeed/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{APIURL: srv.URL, Token: "test-token"})
}

// ---------------------------------------------------------------------------
// ListReleases
// ---------------------------------------------------------------------------

func TestListReleases(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/vercel/next.js/releases" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.URL.Query().Get("per_page"); got != "50" {
			t.Errorf("per_page = %q, want 50", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 2, "tag_name": "v15.0.1", "name": "15.0.1", "body": "fixes", "published_at": "2026-01-03T00:00:00Z"},
			{"id": 1, "tag_name": "v15.0.0", "name": "", "body": "", "draft": true, "published_at": null}
		]`))
	})

	releases, err := c.ListReleases(context.Background(), "vercel", "next.js", 2, 50)
	if err != nil {
		t.Fatalf("ListReleases() error = %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("got %d releases, want 2", len(releases))
	}

	if releases[0].TagName != "v15.0.1" || releases[0].Body != "fixes" {
		t.Errorf("releases[0] = %+v", releases[0])
	}
	if releases[0].PublishedAt == nil || releases[0].PublishedAt.Year() != 2026 {
		t.Errorf("releases[0].PublishedAt = %v, want a 2026 timestamp", releases[0].PublishedAt)
	}
	if !releases[1].Draft {
		t.Error("releases[1].Draft = false, want true")
	}
	if releases[1].PublishedAt != nil {
		t.Errorf("releases[1].PublishedAt = %v, want nil", releases[1].PublishedAt)
	}
}

func TestListReleases_ClampsPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "1" {
			t.Errorf("page = %q, want 1", got)
		}
		if got := r.URL.Query().Get("per_page"); got != "100" {
			t.Errorf("per_page = %q, want 100", got)
		}
		_, _ = w.Write([]byte(`[]`))
	})

	releases, err := c.ListReleases(context.Background(), "o", "r", 0, 500)
	if err != nil {
		t.Fatalf("ListReleases() error = %v", err)
	}
	if len(releases) != 0 {
		t.Errorf("got %d releases, want 0", len(releases))
	}
}

func TestListReleases_RepositoryNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.ListReleases(context.Background(), "ghost", "repo", 1, 100)
	if !errors.Is(err, ErrRepositoryNotFound) {
		t.Errorf("error = %v, want ErrRepositoryNotFound", err)
	}
}

func TestListReleases_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`API rate limit exceeded`))
	})

	_, err := c.ListReleases(context.Background(), "o", "r", 1, 100)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
	if !apiErr.IsRateLimited() {
		t.Error("IsRateLimited() = false, want true")
	}
	if !strings.Contains(apiErr.Error(), "list releases") {
		t.Errorf("Error() = %q, want it to mention list releases", apiErr.Error())
	}
}

// ---------------------------------------------------------------------------
// Rate limiting through the shared transport
// ---------------------------------------------------------------------------

func TestListReleases_WaitsOutLowBudgetBeyondAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", "1700003600")
		_, _ = w.Write([]byte(`[{"id": 1, "tag_name": "v1.0.0"}]`))
	}))
	defer srv.Close()

	guard := ratelimit.NewGuard(0, 0)
	transport := ratelimit.NewTransport(nil, guard, nil)
	transport.AttemptTimeout = 300 * time.Millisecond
	c := NewClient(Options{APIURL: srv.URL, Token: "test-token", Transport: transport})

	// The budget is below the low-water mark, so the request has to wait for the reset,
	// which is several attempt timeouts away.
	guard.Set(3, time.Now().Add(1500*time.Millisecond))

	start := time.Now()
	releases, err := c.ListReleases(context.Background(), "o", "r", 1, 100)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("ListReleases() error = %v after %v", err, elapsed)
	}
	if len(releases) != 1 || releases[0].TagName != "v1.0.0" {
		t.Errorf("releases = %+v", releases)
	}
	if elapsed < time.Second {
		t.Errorf("request returned after %v, want it to wait for the reset", elapsed)
	}
	if remaining, _, _ := guard.State(); remaining != 4999 {
		t.Errorf("remaining = %d, want 4999 from the response headers", remaining)
	}
}

func TestListReleases_CallerDeadlineBoundsGuardWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	guard := ratelimit.NewGuard(0, 0)
	transport := ratelimit.NewTransport(nil, guard, nil)
	c := NewClient(Options{APIURL: srv.URL, Transport: transport})
	guard.Set(0, time.Now().Add(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.ListReleases(ctx, "o", "r", 1, 100); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

// ---------------------------------------------------------------------------
// GetReleaseByTag
// ---------------------------------------------------------------------------

func TestGetReleaseByTag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/repos/o/r/releases/tags/@scope%2Fpkg@1.0.0":
			_, _ = w.Write([]byte(`{"id": 9, "tag_name": "@scope/pkg@1.0.0", "body": "real notes"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	rel, err := c.GetReleaseByTag(context.Background(), "o", "r", "@scope/pkg@1.0.0")
	if err != nil {
		t.Fatalf("GetReleaseByTag() error = %v", err)
	}
	if rel == nil || rel.Body != "real notes" {
		t.Errorf("release = %+v, want body %q", rel, "real notes")
	}

	missing, err := c.GetReleaseByTag(context.Background(), "o", "r", "v0.0.0")
	if err != nil {
		t.Fatalf("GetReleaseByTag(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("missing tag = %+v, want nil", missing)
	}
}

// ---------------------------------------------------------------------------
// GetFileContent
// ---------------------------------------------------------------------------

func TestGetFileContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/vnd.github.raw" {
			t.Errorf("Accept = %q", got)
		}
		switch r.URL.Path {
		case "/repos/o/r/contents/packages/core/CHANGELOG.md":
			_, _ = w.Write([]byte("## 1.0.0\n- first\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	content, err := c.GetFileContent(context.Background(), "o", "r", "packages/core/CHANGELOG.md")
	if err != nil {
		t.Fatalf("GetFileContent() error = %v", err)
	}
	if content == nil || *content != "## 1.0.0\n- first\n" {
		t.Errorf("content = %v", content)
	}

	missing, err := c.GetFileContent(context.Background(), "o", "r", "CHANGELOG.md")
	if err != nil {
		t.Fatalf("GetFileContent(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("missing file = %q, want nil", *missing)
	}
}

func TestGetFileContent_TooLarge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	c.MaxFileSize = 32

	content, err := c.GetFileContent(context.Background(), "o", "r", "CHANGELOG.md")
	if err != nil {
		t.Fatalf("GetFileContent() error = %v", err)
	}
	if content != nil {
		t.Errorf("oversized file returned %d bytes, want nil", len(*content))
	}
}

func TestGetFileContent_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetFileContent(context.Background(), "o", "r", "CHANGELOG.md")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.IsRateLimited() {
		t.Error("IsRateLimited() = true, want false")
	}
}

func TestNewClient_NoTokenSendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want none", got)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIURL: srv.URL + "/"})
	if c.APIURL != srv.URL {
		t.Errorf("APIURL = %q, want %q", c.APIURL, srv.URL)
	}
	if _, err := c.ListReleases(context.Background(), "o", "r", 1, 10); err != nil {
		t.Fatalf("ListReleases() error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// ParseOwnerRepo
// ---------------------------------------------------------------------------

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		in        string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"vercel/next.js", "vercel", "next.js", false},
		{"https://github.com/vercel/next.js", "vercel", "next.js", false},
		{"https://github.com/vercel/next.js/releases/", "vercel", "next.js", false},
		{"https://api.github.com/repos/facebook/react", "facebook", "react", false},
		{"git@github.com:facebook/react.git", "facebook", "react", false},
		{"github.com/a/b", "a", "b", false},
		{"justone", "", "", true},
		{"/missing-owner", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseOwnerRepo(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRepoURL) {
					t.Errorf("ParseOwnerRepo(%q) error = %v, want ErrInvalidRepoURL", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOwnerRepo(%q) error = %v", tt.in, err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("ParseOwnerRepo(%q) = (%q, %q), want (%q, %q)", tt.in, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}
