package core

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// ParseVersion parses a package version string
func ParseVersion(v string) (*version.Version, error) {
	parsed, err := version.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", v, err)
	}
	return parsed, nil
}

// CompareVersions returns -1, 0 or 1. Unparsable versions sort before parsable ones
// and are compared lexically among themselves.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
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

// ParseRequirement parses a dependency version requirement.
//
// The hashicorp constraint syntax is accepted as is. In addition:
//   - "" and "*" match any version
//   - a bare version and "^x.y.z" are caret ranges (compatible updates)
//   - "~x.y.z" allows patch updates only
func ParseRequirement(req string) (version.Constraints, error) {
	req = strings.TrimSpace(req)
	if req == "" || req == "*" {
		return version.NewConstraint(">= 0.0.0")
	}

	parts := strings.Split(req, ",")
	out := make([]string, 0, len(parts)*2)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty clause in %q", ErrInvalidRequirement, req)
		}
		expanded, err := expandClause(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRequirement, req, err)
		}
		out = append(out, expanded...)
	}

	constraints, err := version.NewConstraint(strings.Join(out, ", "))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRequirement, req, err)
	}
	return constraints, nil
}

// Satisfies reports whether ver matches the requirement req
func Satisfies(req, ver string) (bool, error) {
	constraints, err := ParseRequirement(req)
	if err != nil {
		return false, err
	}
	v, err := ParseVersion(ver)
	if err != nil {
		return false, err
	}
	return constraints.Check(v), nil
}

func expandClause(clause string) ([]string, error) {
	if clause == "*" {
		return []string{">= 0.0.0"}, nil
	}

	switch {
	case strings.HasPrefix(clause, "~>"):
		return []string{clause}, nil
	case strings.HasPrefix(clause, "^"):
		return caretRange(strings.TrimSpace(clause[1:]))
	case strings.HasPrefix(clause, "~"):
		return tildeRange(strings.TrimSpace(clause[1:]))
	case strings.ContainsAny(clause[:1], "=<>!"):
		return []string{clause}, nil
	default:
		return caretRange(clause)
	}
}

func caretRange(v string) ([]string, error) {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return nil, err
	}
	segs := parsed.Segments()
	major, minor, patch := segs[0], segs[1], segs[2]
	explicit := len(strings.Split(strings.SplitN(v, "-", 2)[0], "."))

	var upper string
	switch {
	case major > 0 || explicit == 1:
		upper = fmt.Sprintf("%d.0.0", major+1)
	case minor > 0 || explicit == 2:
		upper = fmt.Sprintf("0.%d.0", minor+1)
	default:
		upper = fmt.Sprintf("0.0.%d", patch+1)
	}
	return []string{">= " + v, "< " + upper}, nil
}

func tildeRange(v string) ([]string, error) {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return nil, err
	}
	segs := parsed.Segments()
	explicit := len(strings.Split(strings.SplitN(v, "-", 2)[0], "."))

	upper := fmt.Sprintf("%d.%d.0", segs[0], segs[1]+1)
	if explicit == 1 {
		upper = fmt.Sprintf("%d.0.0", segs[0]+1)
	}
	return []string{">= " + v, "< " + upper}, nil
}
