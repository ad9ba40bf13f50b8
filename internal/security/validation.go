package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
)

const (
	maxNameLen    = 255
	maxVersionLen = 100
)

var (
	// ValidPackageNameRegex allows alphanumeric, dash, underscore, plus and dot
	ValidPackageNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*$`)

	// ValidVersionRegex allows standard version formats
	ValidVersionRegex = regexp.MustCompile(`^[a-zA-Z0-9._+~-]+$`)
)

// ValidatePackageName validates a package name before it is used in file names or URLs
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}

	if len(name) > maxNameLen {
		return fmt.Errorf("package name too long (max %d characters)", maxNameLen)
	}

	// names become artifact file names and URL path segments
	if !ValidPackageNameRegex.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid package name %q: must start with an alphanumeric character and contain only alphanumeric, dot, plus, dash or underscore", name)
	}
	return nil
}

// ValidateVersion checks that a version is safe to embed in an artifact file
// name and parses as a semantic version
func ValidateVersion(v string) error {
	switch {
	case v == "":
		return fmt.Errorf("invalid version: version cannot be empty")
	case len(v) >= maxVersionLen:
		return fmt.Errorf("version string too long (max %d characters)", maxVersionLen-1)
	case strings.ContainsAny(v, "/\\\x00"), strings.Contains(v, ".."):
		return fmt.Errorf("invalid version %q: contains a path element", v)
	case !ValidVersionRegex.MatchString(v):
		return fmt.Errorf("invalid version %q: must be alphanumeric with dots, dashes, tildes or plus signs", v)
	}

	if _, err := version.NewVersion(v); err != nil {
		return fmt.Errorf("invalid version %q: %w", v, err)
	}
	return nil
}

// ValidateRepositoryURL accepts http(s) and file URLs only
func ValidateRepositoryURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("repository URL %q has no host", raw)
		}
	case "file":
	default:
		return fmt.Errorf("unsupported repository URL scheme %q", u.Scheme)
	}

	return nil
}
