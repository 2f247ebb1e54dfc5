// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
)

const appDir = "taskbridge"

// ConfigDir returns the user configuration directory
// (~/.config/taskbridge), falling back to the current directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appDir
	}
	return filepath.Join(home, ".config", appDir)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateFile returns the path of the persistent client state document
// (current session id and friends), the analog of browser local storage.
func StateFile() string {
	return filepath.Join(ConfigDir(), "state.json")
}

// LogFile returns the debug log path.
func LogFile() string {
	return filepath.Join(ConfigDir(), "debug.log")
}
