package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/changefeed/changefeed/internal/db/models"
	"github.com/changefeed/changefeed/internal/github"
)

// PackageSpec is one entry of a package seed file:
//
//	packages:
//	  - name: next
//	    repository: vercel/next.js
//	  - name: "@babel/core"
//	    owner: babel
//	    repo: babel
//	    tag_prefix: "@babel/core@"
type PackageSpec struct {
	Name       string `yaml:"name"`
	Repository string `yaml:"repository"`
	Owner      string `yaml:"owner"`
	Repo       string `yaml:"repo"`
	TagPrefix  string `yaml:"tag_prefix"`
}

type packageFile struct {
	Packages []PackageSpec `yaml:"packages"`
}

// PackageUpserter stores packages keyed by name.
type PackageUpserter interface {
	Upsert(ctx context.Context, pkg *models.Package) (bool, error)
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Created int
	Updated int
}

// LoadPackageFile reads and validates a package seed file.
func LoadPackageFile(path string) ([]PackageSpec, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied seed file path
	if err != nil {
		return nil, fmt.Errorf("failed to read package file: %w", err)
	}
	return ParsePackages(data)
}

// ParsePackages decodes and validates a package seed document.
func ParsePackages(data []byte) ([]PackageSpec, error) {
	var f packageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse package file: %w", err)
	}

	seen := make(map[string]bool, len(f.Packages))
	var errs []error
	for i := range f.Packages {
		p := &f.Packages[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("packages[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("packages[%d]: duplicate name %q", i, p.Name))
			continue
		}
		seen[p.Name] = true

		if p.Repository != "" {
			owner, repo, err := github.ParseOwnerRepo(p.Repository)
			if err != nil {
				errs = append(errs, fmt.Errorf("packages[%d] (%s): %w", i, p.Name, err))
				continue
			}
			p.Owner, p.Repo = owner, repo
		}
		if p.Owner == "" || p.Repo == "" {
			errs = append(errs, fmt.Errorf("packages[%d] (%s): repository or owner/repo is required", i, p.Name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Packages, nil
}

// ImportPackages upserts specs by name. Imported packages are synced normally from the next
// pass on; they are never pending, so a failing repository is not removed.
func ImportPackages(ctx context.Context, store PackageUpserter, specs []PackageSpec) (*ImportResult, error) {
	res := &ImportResult{}
	for _, spec := range specs {
		pkg := &models.Package{
			Name:  spec.Name,
			Owner: spec.Owner,
			Repo:  spec.Repo,
		}
		if spec.TagPrefix != "" {
			prefix := spec.TagPrefix
			pkg.TagPrefix = &prefix
		}

		created, err := store.Upsert(ctx, pkg)
		if err != nil {
			return res, fmt.Errorf("failed to import package %s: %w", spec.Name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		slog.Debug("package imported", "package", spec.Name, "repository", spec.Owner+"/"+spec.Repo, "created", created)
	}
	return res, nil
}
