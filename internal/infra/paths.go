package infra

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppName = "crypto-core"

// GetWorkspaceDir returns the root directory for all runtime data (DB, nonce
// state, logs). A local "_workspace" directory wins so a checkout can run
// fully self-contained; otherwise data lands under the XDG data home.
func GetWorkspaceDir() string {
	local := "_workspace"
	if _, err := os.Stat(local); err == nil {
		return local
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return local
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, AppName)
}

// EnsureDir creates the directory if it doesn't exist (0755).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile claims the workspace for this process. A second trader
// sharing the nonce file or the database would corrupt both, so the lock
// fails fast when another instance already holds it. The returned closer
// releases the lock.
func CreateLockFile(workDir string) (func(), error) {
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}

	// PID lets an operator identify the holder of a stale lock.
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath locates config.yaml: the working directory's configs/
// first, then the user config dir. Missing files surface from LoadConfig.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		userPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	return defaultPath
}
