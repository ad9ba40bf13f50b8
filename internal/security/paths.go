package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateExtractPath prevents directory traversal attacks (Zip Slip vulnerability)
// Ensures that the extracted path does not escape the target directory
func ValidateExtractPath(targetDir, extractedPath string) error {
	if strings.Contains(extractedPath, "\x00") {
		return fmt.Errorf("path contains null bytes: %s", extractedPath)
	}

	cleanPath := filepath.Clean(extractedPath)

	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("path contains ..: %s", extractedPath)
		}
	}

	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute path not allowed: %s", extractedPath)
	}

	destPath := filepath.Join(targetDir, cleanPath)

	cleanDest, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("failed to resolve target directory: %w", err)
	}

	cleanTarget, err := filepath.Abs(destPath)
	if err != nil {
		return fmt.Errorf("failed to resolve destination path: %w", err)
	}

	if !isUnder(cleanTarget, cleanDest) {
		return fmt.Errorf("path escapes destination directory: %s", extractedPath)
	}

	return nil
}

// ValidateSymlink ensures symlinks don't escape the target directory.
// Absolute link targets are interpreted relative to targetDir, the way
// they resolve once the root is the live system.
func ValidateSymlink(targetDir, linkPath, linkTarget string) error {
	var resolvedTarget string
	if filepath.IsAbs(linkTarget) {
		resolvedTarget = filepath.Join(targetDir, linkTarget)
	} else {
		resolvedTarget = filepath.Join(filepath.Dir(linkPath), linkTarget)
	}

	cleanTarget, err := filepath.Abs(resolvedTarget)
	if err != nil {
		return fmt.Errorf("failed to resolve symlink target: %w", err)
	}

	cleanDest, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("failed to resolve target directory: %w", err)
	}

	if !isUnder(cleanTarget, cleanDest) {
		return fmt.Errorf("symlink target escapes destination: %s -> %s", linkPath, linkTarget)
	}

	return nil
}

// IsPathWithinDirectory checks if a target path is within a given base directory.
// Both paths must be absolute.
func IsPathWithinDirectory(targetPath, basePath string) (bool, error) {
	if !filepath.IsAbs(targetPath) {
		return false, fmt.Errorf("target path must be absolute, got relative path: %s", targetPath)
	}
	if !filepath.IsAbs(basePath) {
		return false, fmt.Errorf("base path must be absolute, got relative path: %s", basePath)
	}

	rel, err := filepath.Rel(filepath.Clean(basePath), filepath.Clean(targetPath))
	if err != nil {
		return false, fmt.Errorf("failed to compute relative path: %w", err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}

	return true, nil
}

func isUnder(path, dir string) bool {
	if path == dir {
		return true
	}
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
