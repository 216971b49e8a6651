package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "SPACEGRAPH_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "spacegraph.yaml"
	// ConfigDirName is the directory under XDG and /etc
	ConfigDirName = "spacegraph"
)

// searchPaths lists config candidates, most specific first. Unset
// environment variables contribute no candidate.
func searchPaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		paths = append(paths, abs)
	} else {
		paths = append(paths, ConfigFileName)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, ConfigDirName, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// FindConfigPath returns the first existing regular file among
// $SPACEGRAPH_CONFIG, ./spacegraph.yaml, the XDG config dir,
// ~/.config/spacegraph and /etc/spacegraph. Empty means none exists and
// defaults apply.
func FindConfigPath() string {
	for _, p := range searchPaths() {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}
