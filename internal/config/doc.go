// Package config loads the relay's YAML configuration with ${VAR}
// environment expansion and duration-string parsing.
package config
