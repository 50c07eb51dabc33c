// Package logging builds the slog loggers used across clipline and defines
// the standardized structured field keys emitted on every pipeline record.
package logging
