package extension

import (
	"regexp"

	version "github.com/hashicorp/go-version"
)

// versionPattern matches dotted integer versions: 1 to 4 numeric
// components, no prerelease or build metadata.
var versionPattern = regexp.MustCompile(`^\d+(\.\d+){0,3}$`)

// ParseVersion parses an extension version string. Extension versions are
// dotted integers ("3", "1.0", "2.0.141.3"), not semantic versions.
func ParseVersion(s string) (*version.Version, error) {
	if !versionPattern.MatchString(s) {
		return nil, &VersionError{Value: s}
	}

	v, err := version.NewVersion(s)
	if err != nil {
		return nil, &VersionError{Value: s}
	}
	return v, nil
}
