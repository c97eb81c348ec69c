package ui

// Default component dimensions.
const (
	// DefaultWidthSmall is the default width for small components (search, panels).
	DefaultWidthSmall = 40

	// DefaultWidthLarge is the default width for full-screen components.
	DefaultWidthLarge = 80

	// DefaultHeightLarge is the default height for full-screen components.
	DefaultHeightLarge = 24

	// DefaultSearchCharLimit is the default character limit for search inputs.
	DefaultSearchCharLimit = 100
)
