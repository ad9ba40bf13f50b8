package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "curl", false},
		{"with dash and dot", "lib-foo.2", false},
		{"with plus", "g++", false},
		{"empty", "", true},
		{"leading dash", "-rf", true},
		{"slash", "foo/bar", true},
		{"traversal", "foo..bar", true},
		{"space", "foo bar", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"semver", "1.2.3", false},
		{"prerelease", "1.2.3-rc.1+build5", false},
		{"empty", "", true},
		{"slash", "1.0/../../etc", true},
		{"semicolon", "1.0;rm", true},
		{"null byte", "1.0\x00", true},
		{"not a version", "latest", true},
		{"too long", "1." + strings.Repeat("9", 120), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRepositoryURL(t *testing.T) {
	assert.NoError(t, ValidateRepositoryURL("https://repo.example.com/core"))
	assert.NoError(t, ValidateRepositoryURL("file:///srv/repo"))
	assert.Error(t, ValidateRepositoryURL(""))
	assert.Error(t, ValidateRepositoryURL("ftp://repo.example.com"))
	assert.Error(t, ValidateRepositoryURL("https://"))
}
