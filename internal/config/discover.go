package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	configFileName = "formulary.yaml"
	configDirName  = "formulary"
)

// Environment variables consulted during discovery.
const (
	EnvSystemConfig = "FORMULARY_SYSTEM_CONFIG"
	EnvUserConfig   = "FORMULARY_USER_CONFIG"
	EnvNoInheritVar = "FORMULARY_NO_INHERIT"
)

// ConfigLevel names where a config layer came from.
type ConfigLevel string

const (
	LevelSystem  ConfigLevel = "system"
	LevelUser    ConfigLevel = "user"
	LevelProject ConfigLevel = "project"
)

// ConfigLayerInfo is one file in the config chain.
type ConfigLayerInfo struct {
	Level  ConfigLevel
	Path   string
	Loaded bool
	Err    error // set when the file exists but could not be parsed
}

// DiscoverOptions locates the config chain. Empty system and user paths fall
// back to FORMULARY_SYSTEM_CONFIG / FORMULARY_USER_CONFIG, then to the
// platform locations. A path that does not exist contributes nothing.
type DiscoverOptions struct {
	ProjectPath      string // the --config file
	SystemConfigPath string
	UserConfigPath   string
}

// DiscoverPaths returns the config chain ordered system, user, project.
// A file reachable from several levels appears once, at the highest level
// that names it.
func DiscoverPaths(opts DiscoverOptions) []ConfigLayerInfo {
	chain := []ConfigLayerInfo{
		{Level: LevelSystem, Path: firstSet(opts.SystemConfigPath, os.Getenv(EnvSystemConfig), SystemConfigPath())},
		{Level: LevelUser, Path: firstSet(opts.UserConfigPath, os.Getenv(EnvUserConfig), UserConfigPath())},
		{Level: LevelProject, Path: opts.ProjectPath},
	}

	seen := make(map[string]bool, len(chain))
	keep := make([]bool, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Path == "" {
			continue
		}
		key := chain[i].Path
		if abs, err := filepath.Abs(key); err == nil {
			key = abs
		}
		if !seen[key] {
			seen[key] = true
			keep[i] = true
		}
	}

	var layers []ConfigLayerInfo
	for i, l := range chain {
		if keep[i] {
			layers = append(layers, l)
		}
	}
	return layers
}

// SystemConfigPath is the machine-wide config file.
func SystemConfigPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("ProgramData")
		if root == "" {
			root = `C:\ProgramData`
		}
		return filepath.Join(root, configDirName, configFileName)
	}
	return filepath.Join("/etc", configDirName, configFileName)
}

// UserConfigPath is the per-user config file, or "" when no config
// directory can be determined.
func UserConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// EnvNoInherit reports whether FORMULARY_NO_INHERIT asks for the project
// config alone.
func EnvNoInherit() bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvNoInheritVar)))
	return err == nil && v
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
