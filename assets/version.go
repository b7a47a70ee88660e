package assets

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// RuntimeVersion is the semantic version of this runtime, compared
// against the version declared in entity metadata. Development builds
// (non-empty prerelease, or an all-zero version) skip the gate entirely.
var RuntimeVersion = "1.0.0"

// ErrVersionMismatch is returned when a file declares a version this
// runtime refuses to load.
var ErrVersionMismatch = fmt.Errorf("incompatible code version")

// ValidateVersionAgainstRuntime checks a file's declared semver against
// the runtime's. Files newer than the runtime in any of major, minor,
// or patch are rejected, as are files older than the runtime's major
// version.
func ValidateVersionAgainstRuntime(version string) error {
	return validateVersion(version, RuntimeVersion)
}

func validateVersion(fileVersion, runtimeVersion string) error {
	// canonical "vX.Y.Z" forms for semver comparison
	rv := "v" + runtimeVersion
	if !semver.IsValid(rv) {
		return nil
	}
	if semver.Prerelease(rv) != "" || semver.Canonical(rv) == "v0.0.0" {
		// dev builds load anything
		return nil
	}

	fv := "v" + strings.TrimPrefix(fileVersion, "v")
	if !semver.IsValid(fv) {
		return fmt.Errorf("%w: invalid version number %q", ErrVersionMismatch, fileVersion)
	}

	if semver.Compare(semver.Canonical(fv), semver.Canonical(rv)) > 0 {
		return fmt.Errorf("%w: code version %s is more recent than runtime version %s",
			ErrVersionMismatch, fileVersion, runtimeVersion)
	}
	if semver.Compare(semver.Major(fv), semver.Major(rv)) < 0 {
		return fmt.Errorf("%w: code version %s is older than runtime major version %s",
			ErrVersionMismatch, fileVersion, runtimeVersion)
	}
	return nil
}
