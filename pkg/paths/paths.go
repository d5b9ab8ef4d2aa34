package paths

import (
	"os"
	"path/filepath"
)

const appName = "themethumb"

// GetConfigDir returns the user's config directory for themethumb.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory. This is a best-effort fallback and
// not intended to be a security boundary.
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), "."+appName+"-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", appName))
}

// GetDataDir returns the user's data directory for themethumb (user themes,
// logs).
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), "."+appName))
	}
	return filepath.Clean(filepath.Join(homeDir, ".local", "share", appName))
}

// GetCacheDir returns the directory holding the persistent thumbnail cache.
func GetCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Clean(filepath.Join(dir, appName))
	}
	return filepath.Join(GetDataDir(), "cache")
}

// GetHomeDir returns the user's home directory.
//
// Returns an empty string if the home directory cannot be determined.
func GetHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Clean(homeDir)
}
