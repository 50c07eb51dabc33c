// Package config loads, normalizes, and validates the TOML configuration
// file that seeds the render pipeline. Runtime-mutable scheduling limits are
// layered on top by internal/renderconfig; this package owns the on-disk
// baseline.
package config
