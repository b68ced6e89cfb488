// Package config loads the runtime configuration from an optional JSON or
// YAML file overlaid with environment variables, and validates the settings
// the process cannot start without.
package config
