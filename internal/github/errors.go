package github

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrRepositoryNotFound is returned when the owner/repo pair does not exist or is not
	// visible to the configured token.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrInvalidRepoURL is returned by ParseOwnerRepo for unrecognised input.
	ErrInvalidRepoURL = errors.New("cannot parse GitHub owner/repo")
)

// APIError is a non-success response from the GitHub API.
type APIError struct {
	StatusCode int
	Operation  string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("GitHub %s returned %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("GitHub %s returned %d", e.Operation, e.StatusCode)
}

// IsRateLimited reports whether the error is a rate-limit rejection that survived retries.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		(e.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(e.Message), "rate limit"))
}

func newAPIError(resp *http.Response, operation string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Operation:  operation,
		Message:    strings.TrimSpace(string(body)),
	}
}
