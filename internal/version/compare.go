package version

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Canonical renders p as a semver string without any monorepo prefix, e.g. "2.3.4-rc.1+b5".
// It returns "" for unversioned tags.
func (p Parsed) Canonical() string {
	if !p.IsVersioned() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", p.Major, p.Minor, p.Patch)
	if p.IsPrerelease() {
		b.WriteString("-" + *p.Prerelease)
	}
	if p.Build != nil {
		b.WriteString("+" + *p.Build)
	}
	return b.String()
}

// Compare orders two tags by version precedence: -1 if a < b, 0 if equal, 1 if a > b.
// Tags without a readable version sort below versioned ones; two such tags compare
// lexically. Used only to break ties between releases published at the same instant.
func Compare(a, b string) int {
	va, errA := goversion.NewVersion(Parse(a).Canonical())
	vb, errB := goversion.NewVersion(Parse(b).Canonical())
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
