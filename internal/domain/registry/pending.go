package registry

import goversion "github.com/hashicorp/go-version"

// PendingInfo describes an install that has been requested but has not
// completed. Entries live until the install finishes, fails, or is found
// to be redundant.
type PendingInfo struct {
	// IsTheme records whether the pending install is expected to be a
	// theme. A completed install whose kind does not match is discarded.
	IsTheme bool
	// InstallSilently suppresses the install prompt for sources the user
	// already approved, such as external providers and autoupdate.
	InstallSilently bool
	// ExpectedVersion pins the version the install must carry, or nil
	// when any version is acceptable.
	ExpectedVersion *goversion.Version
	// UpdateURL is where the update agent fetches this id from while the
	// install is still pending.
	UpdateURL string
}
