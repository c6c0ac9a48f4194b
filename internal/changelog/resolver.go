package changelog

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/changefeed/changefeed/internal/github"
	"github.com/changefeed/changefeed/internal/telemetry"
	"github.com/changefeed/changefeed/internal/version"
)

// DefaultCandidates are the conventional changelog filenames tried, in order, when a stub
// body does not link to a specific file.
var DefaultCandidates = []string{
	"CHANGELOG.md", "CHANGES.md", "HISTORY.md",
	"changelog.md", "changes.md", "history.md",
}

// FileFetcher reads a repository file. Implementations return nil content when the file does
// not exist or is too large.
type FileFetcher interface {
	GetFileContent(ctx context.Context, owner, repo, path string) (*string, error)
}

// ReleaseFetcher reads a single release by tag, returning nil when it does not exist.
type ReleaseFetcher interface {
	GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.Release, error)
}

var (
	blobLinkRE    = regexp.MustCompile(`https?://github\.com/([\w.-]+)/([\w.-]+)/blob/([^/\s)]+)/([^\s)#?\]>"']+)`)
	releaseLinkRE = regexp.MustCompile(`https?://github\.com/([\w.-]+)/([\w.-]+)/releases/tag/([^\s)#?\]>"']+)`)
)

// Resolver replaces stub release bodies with real notes. File reads are shared across calls
// on the same Resolver, so one sync reads each changelog at most once.
type Resolver struct {
	files      FileFetcher
	releases   ReleaseFetcher
	Candidates []string

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*string
}

// NewResolver creates a resolver. releases may be nil, which disables release link following.
func NewResolver(files FileFetcher, releases ReleaseFetcher) *Resolver {
	return &Resolver{
		files:      files,
		releases:   releases,
		Candidates: DefaultCandidates,
		cache:      make(map[string]*string),
	}
}

// ResolveBody runs release link following and then stub resolution for one release body,
// returning the body to store. It never fails: when nothing resolves, body is returned as is.
func (r *Resolver) ResolveBody(ctx context.Context, owner, repo, tag, body string) string {
	if followed, ok := r.FollowReleaseLink(ctx, owner, repo, body); ok {
		telemetry.ChangelogResolutionsTotal.WithLabelValues("followed").Inc()
		body = followed
	}
	if !IsStubReference(body) {
		return body
	}
	if resolved, ok := r.Resolve(ctx, owner, repo, tag, body); ok {
		telemetry.ChangelogResolutionsTotal.WithLabelValues("resolved").Inc()
		return resolved
	}
	telemetry.ChangelogResolutionsTotal.WithLabelValues("unresolved").Inc()
	return body
}

// Resolve finds the changelog section for tag. A file link in body is tried first; without
// one the conventional filenames in r.Candidates are tried in order.
func (r *Resolver) Resolve(ctx context.Context, owner, repo, tag, body string) (string, bool) {
	keys := sectionKeys(tag)
	for _, c := range r.candidates(owner, repo, body) {
		if ctx.Err() != nil {
			return "", false
		}
		content, err := r.fetch(ctx, c.owner, c.repo, c.path)
		if err != nil {
			slog.Warn("changelog fetch failed",
				"repo", c.owner+"/"+c.repo, "path", c.path, "tag", tag, "error", err)
			continue
		}
		if content == nil {
			continue
		}
		for _, key := range keys {
			if s, ok := ExtractVersionSection(*content, key); ok {
				slog.Debug("resolved stub release notes",
					"repo", owner+"/"+repo, "tag", tag, "file", c.path)
				return s, true
			}
		}
	}
	return "", false
}

// FollowReleaseLink returns the body of another repository's release when body is a short
// pointer to it ("see https://github.com/upstream/proj/releases/tag/v1.2.3").
func (r *Resolver) FollowReleaseLink(ctx context.Context, owner, repo, body string) (string, bool) {
	if r.releases == nil || utf8.RuneCountInString(body) >= StubThreshold {
		return "", false
	}
	m := releaseLinkRE.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	linkOwner, linkRepo := m[1], m[2]
	if strings.EqualFold(linkOwner, owner) && strings.EqualFold(linkRepo, repo) {
		return "", false
	}
	tag, err := url.PathUnescape(m[3])
	if err != nil {
		tag = m[3]
	}

	rel, err := r.releases.GetReleaseByTag(ctx, linkOwner, linkRepo, tag)
	if err != nil {
		slog.Warn("failed to follow release link",
			"repo", owner+"/"+repo, "target", linkOwner+"/"+linkRepo, "tag", tag, "error", err)
		return "", false
	}
	if rel == nil || strings.TrimSpace(rel.Body) == "" {
		return "", false
	}
	return rel.Body, true
}

type candidate struct {
	owner, repo, path string
}

func (r *Resolver) candidates(owner, repo, body string) []candidate {
	var out []candidate
	for _, m := range blobLinkRE.FindAllStringSubmatch(body, -1) {
		path, err := url.PathUnescape(m[4])
		if err != nil {
			path = m[4]
		}
		out = append(out, candidate{owner: m[1], repo: m[2], path: path})
	}
	if len(out) > 0 {
		return out
	}
	for _, name := range r.Candidates {
		out = append(out, candidate{owner: owner, repo: repo, path: name})
	}
	return out
}

// Reset forgets every cached file so the next read goes back to the repository.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*string)
	r.mu.Unlock()
}

// fetch reads a file once per resolver. Not-found results are cached; errors are not.
func (r *Resolver) fetch(ctx context.Context, owner, repo, path string) (*string, error) {
	key := strings.ToLower(owner+"/"+repo) + ":" + path

	r.mu.Lock()
	content, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return content, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		c, err := r.files.GetFileContent(ctx, owner, repo, path)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*string), nil
}

// sectionKeys lists the heading values that identify tag in a changelog. Monorepo tags are
// also looked up by their bare version, since per-package changelogs omit the package name.
func sectionKeys(tag string) []string {
	keys := []string{tag}
	p := version.Parse(tag)
	if p.MonorepoPackage != nil {
		if c := p.Canonical(); c != "" && c != tag {
			keys = append(keys, c)
		}
	}
	return keys
}
