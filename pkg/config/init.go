package config

import (
	"fmt"
	"os"
)

// InitConfig writes a default configuration file at the default location.
// Returns the path written. Refuses to overwrite unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file at path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	return SaveConfig(GetDefaultConfig(), path)
}
