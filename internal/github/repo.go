package github

import (
	"fmt"
	"strings"
)

// ParseOwnerRepo extracts owner and repository from "owner/repo" or any GitHub URL form:
//
//	https://github.com/vercel/next.js
//	https://github.com/vercel/next.js/releases
//	https://api.github.com/repos/vercel/next.js
//	git@github.com:vercel/next.js.git
func ParseOwnerRepo(s string) (owner, repo string, err error) {
	u := strings.TrimSpace(strings.TrimRight(s, "/"))
	for _, prefix := range []string{
		"https://api.github.com/repos/",
		"http://api.github.com/repos/",
		"https://github.com/",
		"http://github.com/",
		"git@github.com:",
		"github.com/",
	} {
		if strings.HasPrefix(strings.ToLower(u), prefix) {
			u = u[len(prefix):]
			break
		}
	}
	parts := strings.SplitN(u, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[0], ":") {
		return "", "", fmt.Errorf("%w from %q", ErrInvalidRepoURL, s)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
