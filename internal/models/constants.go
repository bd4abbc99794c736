package models

// Common constants used across the application
const (
	// UnknownRoute is the sentinel route identifier published when a
	// vehicle's route cannot be resolved.
	UnknownRoute = "unknown"
)
