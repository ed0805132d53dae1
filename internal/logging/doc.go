// Package logging centralizes structured logging for resona on top of
// log/slog. It provides a console handler for interactive use, a JSON
// handler for machine consumption, attribute helpers, and the standardized
// field keys used across the engine so diagnostics stay greppable.
package logging
