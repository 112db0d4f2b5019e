// ABOUTME: Config file resolution shared by the relay binaries
// ABOUTME: RELAY_CONFIG env var wins, then the XDG config directory

package cli

import (
	"os"
	"path/filepath"
)

// ConfigPath returns the path to the relay config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/relay.yaml >
// ~/.config/relay/relay.yaml.
func ConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay", "relay.yaml")
}
