package extension

import "strings"

// IsPrivilegeIncrease reports whether replacing oldManifest with newManifest
// would grant the extension capabilities it did not already have. Upgrades
// that increase privileges cannot complete silently; the user must approve
// them, so the upgraded extension arrives disabled.
//
// Themes carry no privileges and never escalate.
func IsPrivilegeIncrease(oldManifest, newManifest *Manifest) bool {
	if newManifest.IsTheme() {
		return false
	}
	if oldManifest.IsTheme() {
		// Anything beyond a theme is a privilege increase.
		return len(newManifest.Permissions) > 0
	}

	granted := make(map[string]struct{}, len(oldManifest.Permissions))
	for _, p := range oldManifest.Permissions {
		granted[normalizePermission(p)] = struct{}{}
	}

	for _, p := range newManifest.Permissions {
		if _, ok := granted[normalizePermission(p)]; !ok {
			return true
		}
	}
	return false
}

func normalizePermission(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
