// Package updater keeps installed extensions current. A background agent
// periodically asks each gallery which of the installed extensions have
// newer versions, downloads the offered packages, and hands them to the
// registry for a silent upgrade.
package updater

import (
	"encoding/json"
	"fmt"
)

// UpdateInfo describes one version a gallery offers.
type UpdateInfo struct {
	ID             string `json:"id"`
	Version        string `json:"version"`
	PackageURL     string `json:"package_url"`
	SHA256         string `json:"sha256,omitempty"`
	MinHostVersion string `json:"min_host_version,omitempty"`
}

// Index is a gallery's answer to an update check.
type Index struct {
	Updates []UpdateInfo `json:"updates"`

	// Internal lookup map (not serialized)
	byID map[string]UpdateInfo `json:"-"`
}

// ParseIndex parses a JSON update index.
func ParseIndex(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse update index: %w", err)
	}

	idx.byID = make(map[string]UpdateInfo, len(idx.Updates))
	for _, info := range idx.Updates {
		idx.byID[info.ID] = info
	}

	return &idx, nil
}

// Get returns the offered update for an extension id.
func (idx *Index) Get(id string) (UpdateInfo, bool) {
	info, ok := idx.byID[id]
	return info, ok
}

// Count returns the number of offers in the index.
func (idx *Index) Count() int {
	return len(idx.Updates)
}
