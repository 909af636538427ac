// Package config loads, normalizes, and validates compintel configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours the
// environment variables the pipeline has always used (OPENAI_API_KEY,
// OPENAI_RPM, GOOGLE_SPREADSHEET_ID, DART_API_KEY and friends).
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
