// Package github implements the remote release and file fetch collaborators on top of the
// GitHub REST API.
//
// Endpoints used:
//
//	GET /repos/{owner}/{repo}/releases?per_page=N&page=P   newest-first release listing
//	GET /repos/{owner}/{repo}/releases/tags/{tag}          a single release by tag
//	GET /repos/{owner}/{repo}/contents/{path}               raw file content (changelogs)
//
// Every request goes through the http.Client passed to NewClient, which in production is
// an oauth2 transport layered over the shared ratelimit.Transport.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"
	// DefaultMaxFileSize is the largest file GetFileContent returns; larger files are
	// reported as absent.
	DefaultMaxFileSize int64 = 1 << 20
	// MaxPerPage is the largest page size the releases endpoint accepts.
	MaxPerPage = 100
)

// Release is the subset of a GitHub release used by the sync engine.
type Release struct {
	ID          int64      `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	HTMLURL     string     `json:"html_url"`
	PublishedAt *time.Time `json:"published_at"`
}

// Client talks to the GitHub REST API.
type Client struct {
	APIURL      string
	HTTPClient  *http.Client
	MaxFileSize int64
}

// Options configures NewClient.
type Options struct {
	// APIURL overrides DefaultAPIURL (GitHub Enterprise: https://host/api/v3).
	APIURL string
	// Token is a personal-access or fine-grained token. Without one the API allows 60
	// requests per hour.
	Token string // #nosec G117 -- configuration field, not a hardcoded credential
	// Transport is the base round tripper, normally a *ratelimit.Transport. Per-attempt
	// deadlines belong there; the client itself sets no overall timeout, so rate-limit waits
	// are bounded only by the request context.
	Transport http.RoundTripper
}

// NewClient builds a client. When a token is configured, requests are authenticated with
// an oauth2 static token source layered over opts.Transport.
func NewClient(opts Options) *Client {
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   transport,
		}
	}
	return &Client{
		APIURL:      apiURL,
		HTTPClient:  &http.Client{Transport: transport},
		MaxFileSize: DefaultMaxFileSize,
	}
}

// ListReleases returns one page of releases, newest first as the API orders them.
func (c *Client) ListReleases(ctx context.Context, owner, repo string, page, perPage int) ([]Release, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d",
		c.APIURL, url.PathEscape(owner), url.PathEscape(repo), perPage, page)

	resp, err := c.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrRepositoryNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp, "list releases")
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to decode GitHub releases response: %w", err)
	}
	return releases, nil
}

// GetReleaseByTag returns the release for tag, or nil when the repository has no such
// release.
func (c *Client) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		c.APIURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(tag))

	resp, err := c.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp, "get release by tag")
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode GitHub release response: %w", err)
	}
	return &rel, nil
}

// GetFileContent returns the raw content of path on the default branch. It returns nil
// when the file does not exist or is larger than MaxFileSize.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path string) (*string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.APIURL, url.PathEscape(owner), url.PathEscape(repo), escapePath(path))

	resp, err := c.get(ctx, endpoint, "application/vnd.github.raw")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp, "get file content")
	}

	limit := c.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if resp.ContentLength > limit {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s/%s: %w", path, owner, repo, err)
	}
	if int64(len(data)) > limit {
		return nil, nil
	}
	content := string(data)
	return &content, nil
}

func (c *Client) get(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build GitHub API request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.HTTPClient.Do(req) // #nosec G704 -- host is the configured GitHub API URL
	if err != nil {
		return nil, fmt.Errorf("failed to call GitHub API: %w", err)
	}
	return resp, nil
}

func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
