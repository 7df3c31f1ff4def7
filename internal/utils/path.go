package utils

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
)

const appName = "popcomplete"

// PathResolver finds the config and dictionary locations for the helper.
type PathResolver struct {
	executableDir string
	homeDir       string
	configDir     string
}

// NewPathResolver determines the executable location and the platform config dir.
func NewPathResolver() (*PathResolver, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Could not determine home directory: %v", err)
		homeDir = os.TempDir()
	}

	pr := &PathResolver{
		executableDir: filepath.Dir(execPath),
		homeDir:       homeDir,
		configDir:     getConfigDir(homeDir),
	}
	log.Debugf("PathResolver initialized: execDir=%s, configDir=%s", pr.executableDir, pr.configDir)
	return pr, nil
}

func getConfigDir(homeDir string) string {
	switch runtime.GOOS {
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		return filepath.Join(homeDir, ".config", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		return filepath.Join(homeDir, ".config", appName)
	}
}

// ConfigDir returns the config directory
func (pr *PathResolver) ConfigDir() string {
	return pr.configDir
}

// ConfigPath returns the full path for a config file. It falls back to a
// temp location when the config directory cannot be created.
func (pr *PathResolver) ConfigPath(filename string) string {
	if err := EnsureDir(pr.configDir); err == nil {
		return filepath.Join(pr.configDir, filename)
	}
	path := filepath.Join(os.TempDir(), appName, filename)
	log.Warnf("Using fallback config location: %s", path)
	return path
}

// DataDir resolves a dictionary directory. Relative paths are tried against
// the config dir, the executable dir and the working dir in that order.
func (pr *PathResolver) DataDir(userPath string) string {
	if userPath == "" {
		userPath = "dict"
	}
	if filepath.IsAbs(userPath) {
		return userPath
	}
	candidates := []string{
		filepath.Join(pr.configDir, userPath),
		filepath.Join(pr.executableDir, userPath),
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, userPath))
	}
	for _, path := range candidates {
		if stat, err := os.Stat(path); err == nil && stat.IsDir() {
			log.Debugf("Found dictionary directory: %s", path)
			return path
		}
		log.Debugf("Dictionary directory candidate not valid: %s", path)
	}
	return candidates[0]
}
