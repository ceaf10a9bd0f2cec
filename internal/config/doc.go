// Package config loads lobsterd settings from a YAML or JSON file, an optional
// .env file and environment variables, in that order of precedence (lowest
// first), then fills defaults.
package config
