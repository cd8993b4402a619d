package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	AppName = "fyers-desk"
	Version = "0.4.0"

	// HomeEnv overrides the workspace root.
	HomeEnv = "FYERS_DESK_HOME"
	// ConfigEnv overrides the config file path.
	ConfigEnv = "FYERS_DESK_CONFIG"

	portableDir = "_workspace"
	lockName    = "instance.lock"
)

// ErrWorkspaceLocked means another process owns the workspace.
var ErrWorkspaceLocked = errors.New("workspace is in use by another instance")

// Workspace is the root of all runtime data: one sqlite file per trading
// mode and the instance lock.
type Workspace struct {
	Root string
}

// DefaultWorkspace resolves the root: $FYERS_DESK_HOME, then a portable
// "_workspace" directory in the working dir, then the per-user data dir.
func DefaultWorkspace() Workspace {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return Workspace{Root: dir}
	}
	if fi, err := os.Stat(portableDir); err == nil && fi.IsDir() {
		return Workspace{Root: portableDir}
	}
	if base := userDataDir(); base != "" {
		return Workspace{Root: filepath.Join(base, AppName)}
	}
	return Workspace{Root: portableDir}
}

// userDataDir is %AppData%, ~/Library/Application Support or $XDG_DATA_HOME.
func userDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if d := os.Getenv("APPDATA"); d != "" {
			return d
		}
		if home != "" {
			return filepath.Join(home, "AppData", "Roaming")
		}
	case "darwin":
		if home != "" {
			return filepath.Join(home, "Library", "Application Support")
		}
	default:
		if d := os.Getenv("XDG_DATA_HOME"); d != "" {
			return d
		}
		if home != "" {
			return filepath.Join(home, ".local", "share")
		}
	}
	return ""
}

// DataDir returns <root>/data/<mode>, creating it. PAPER and REAL never
// share a database.
func (w Workspace) DataDir(mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return "", errors.New("trading mode is empty")
	}
	dir := filepath.Join(w.Root, "data", mode)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// Lock takes the single-instance lock. A lock left by a process that no
// longer runs is taken over.
func (w Workspace) Lock() (release func(), err error) {
	if err := os.MkdirAll(w.Root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	path := filepath.Join(w.Root, lockName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if !staleLock(path) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrWorkspaceLocked, path)
		}
		os.Remove(path)
	}
	return nil, fmt.Errorf("%w (lock file %s)", ErrWorkspaceLocked, path)
}

// staleLock reports whether the pid in the lock file is gone. Unreadable
// locks are treated as live.
func staleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	return !processAlive(pid)
}

// ResolveConfigPath finds config.yaml: $FYERS_DESK_CONFIG, ./configs, then
// the per-user config dir. The ./configs path is returned when none exists
// so the load error names it.
func ResolveConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	local := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if root, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(root, AppName, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return local
}
