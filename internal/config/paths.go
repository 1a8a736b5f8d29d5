package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "ROUTERCTL_CONFIG"
	// ConfigFileName is the config file name in every searched directory
	ConfigFileName = "routerctl.yaml"
	// ConfigDirName is the per-user and system directory name
	ConfigDirName = "routerctl"
	// DefaultEnvFile holds ROUTER_* settings next to the working
	// directory or the config file.
	DefaultEnvFile = ".env"
)

// configDirs lists the directories searched for ConfigFileName, most
// specific first: the working directory, the user config directory and
// /etc/routerctl.
func configDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, ConfigDirName))
	}
	return append(dirs, filepath.Join("/etc", ConfigDirName))
}

// FindConfigPath returns the config file to load: $ROUTERCTL_CONFIG when
// it names an existing file, else the first routerctl.yaml in
// configDirs. Empty when there is none.
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && isFile(path) {
		return path
	}
	for _, dir := range configDirs() {
		path := filepath.Join(dir, ConfigFileName)
		if !isFile(path) {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

// FindEnvFile returns the .env file to apply when none was named: the
// one in the working directory, else the one beside configPath. Empty
// when neither exists.
func FindEnvFile(configPath string) string {
	if isFile(DefaultEnvFile) {
		return DefaultEnvFile
	}
	if configPath == "" {
		return ""
	}
	path := filepath.Join(filepath.Dir(configPath), DefaultEnvFile)
	if isFile(path) {
		return path
	}
	return ""
}

// ensureConfigDir creates the directory of configPath. It is private to
// the owner since the config may carry a router password.
func ensureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0o700)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
