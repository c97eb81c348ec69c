package registry

import (
	"context"

	goversion "github.com/hashicorp/go-version"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
)

// Found describes one externally-declared extension discovered by a
// provider scan.
type Found struct {
	// ID is the declared extension id.
	ID string
	// Version is the version the external source provides.
	Version *goversion.Version
	// Path is the local package path to install from.
	Path string
}

// Provider vends externally-declared extensions for a single install
// location. Visit and HasExtension are called from the registry's backend
// goroutine and may read the provider's source directly.
type Provider interface {
	// Location returns the install location this provider serves.
	Location() extension.Location
	// Visit calls fn once per declared extension.
	Visit(ctx context.Context, fn func(Found)) error
	// HasExtension reports whether the source still declares id.
	HasExtension(id string) bool
}
