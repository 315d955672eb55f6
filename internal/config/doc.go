// Package config loads, validates, and defaults the TOML configuration for
// the grading service. All path fields are expanded (including "~") during
// Load, and a sample config is embedded for "dooriq config init".
package config
