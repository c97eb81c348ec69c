package extension

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrNilManifest indicates a nil manifest was provided.
	ErrNilManifest = errors.New("manifest cannot be nil")
	// ErrManifestNotFound indicates manifest.json was not found.
	ErrManifestNotFound = errors.New("manifest.json not found")
	// ErrManifestInvalid indicates manifest.json could not be decoded.
	ErrManifestInvalid = errors.New("manifest is invalid")
	// ErrKeyRequired indicates a manifest is missing the key its
	// install location demands.
	ErrKeyRequired = errors.New("manifest key required for this install location")
)

// LoadError reports that an extension directory could not be loaded.
type LoadError struct {
	Path   string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("Could not load extension from '%s'. %s", e.Path, e.Reason)
}

// IsLoadError returns true if the error reports an extension load failure.
func IsLoadError(err error) bool {
	var loadErr *LoadError
	return errors.As(err, &loadErr)
}

// InstallError reports that an extension package could not be installed.
type InstallError struct {
	Path   string
	Reason string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s: %s", e.Path, e.Reason)
}

// IsInstallError returns true if the error reports an install failure.
func IsInstallError(err error) bool {
	var installErr *InstallError
	return errors.As(err, &installErr)
}

// VersionError indicates a version string is not a dotted integer version.
type VersionError struct {
	Value string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("invalid extension version %q", e.Value)
}

// IsVersionError returns true if the error reports a malformed version.
func IsVersionError(err error) bool {
	var versionErr *VersionError
	return errors.As(err, &versionErr)
}

// HostVersionError indicates the running host is older than the
// extension's declared minimum.
type HostVersionError struct {
	Required string
	Host     string
}

func (e *HostVersionError) Error() string {
	return fmt.Sprintf("requires host version %s or newer (running %s)", e.Required, e.Host)
}

// IsHostVersionError returns true if the error reports host incompatibility.
func IsHostVersionError(err error) bool {
	var hvErr *HostVersionError
	return errors.As(err, &hvErr)
}

// ValidationError collects multiple manifest validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("manifest validation failed: %s", strings.Join(e.Errors, "; "))
}

// Add adds an error message to the collection.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf adds a formatted error message to the collection.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// IsValidationError returns true if the error is a manifest validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
