package core

// Config controls store behavior.
type Config struct {
	// Path is the SQLite database file path.
	Path string

	// InlineLimit is the maximum payload size in bytes stored inline on an
	// atom row. Larger payloads must be composite.
	InlineLimit int

	// SearchRadius is the half-width of the spatial bounding box used to
	// collect candidates around a projected query point, in key units.
	SearchRadius float64

	// MaxLinearScan bounds the fallback scan when the spatial filter comes
	// back empty.
	MaxLinearScan int

	// MaxOpenConns limits the connection pool.
	MaxOpenConns int

	// Logger receives store diagnostics. Defaults to a no-op logger.
	Logger Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		InlineLimit:   4096,
		SearchRadius:  4.0,
		MaxLinearScan: 10000,
		MaxOpenConns:  25,
		Logger:        NopLogger(),
	}
}
