package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

const envConfigDir = "WORLDCLONE_CONFIG_DIR"

// Load reads and parses configuration from a file, or from config.yaml
// inside a directory. Files listed under include are merged in order, later
// values taking precedence.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := verifyChecksums(paths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $WORLDCLONE_CONFIG_DIR, ~/.config/worldclone, /etc/worldclone, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv(envConfigDir); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "worldclone")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/worldclone"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/worldclone, /etc/worldclone, ./config.yaml)", envConfigDir)
}

// ConfigFiles returns absolute paths of the root config file and every file
// it includes, sorted.
func ConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		scratch := &Config{}
		if err := loadIncludes(scratch, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero
// values. Maps are merged key by key.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}

	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	if src.API.MaxWait != 0 {
		dst.API.MaxWait = src.API.MaxWait
	}

	if src.Webhooks.Listen != "" {
		dst.Webhooks.Listen = src.Webhooks.Listen
	}
	if src.Webhooks.Path != "" {
		dst.Webhooks.Path = src.Webhooks.Path
	}
	if src.Webhooks.Secret != "" {
		dst.Webhooks.Secret = src.Webhooks.Secret
	}
	if src.Webhooks.SignatureHeader != "" {
		dst.Webhooks.SignatureHeader = src.Webhooks.SignatureHeader
	}
	if src.Webhooks.MaxBodySize != "" {
		dst.Webhooks.MaxBodySize = src.Webhooks.MaxBodySize
	}

	w, sw := &dst.World, src.World
	if sw.Container != "" {
		w.Container = sw.Container
	}
	if sw.NamePrefix != "" {
		w.NamePrefix = sw.NamePrefix
	}
	if sw.Radius != 0 {
		w.Radius = sw.Radius
	}
	if sw.MaxRadius != 0 {
		w.MaxRadius = sw.MaxRadius
	}
	if sw.TileEdge != 0 {
		w.TileEdge = sw.TileEdge
	}
	if sw.MetadataFile != "" {
		w.MetadataFile = sw.MetadataFile
	}
	if sw.TileDir != "" {
		w.TileDir = sw.TileDir
	}
	if sw.TileExt != "" {
		w.TileExt = sw.TileExt
	}
	if len(sw.Sources) > 0 {
		if w.Sources == nil {
			w.Sources = make(map[string]string)
		}
		for name, dir := range sw.Sources {
			w.Sources[name] = dir
		}
	}

	if sw.DefaultSource != "" {
		w.DefaultSource = sw.DefaultSource
	}

	if src.Performance.CopyDelay != 0 {
		dst.Performance.CopyDelay = src.Performance.CopyDelay
	}
	if src.Performance.ProgressInterval != 0 {
		dst.Performance.ProgressInterval = src.Performance.ProgressInterval
	}
	if src.Performance.VerifyCopies {
		dst.Performance.VerifyCopies = true
	}

	if src.Setup.TimeOfDay != 0 {
		dst.Setup.TimeOfDay = src.Setup.TimeOfDay
	}
	if src.Setup.BorderWarningDistance != 0 {
		dst.Setup.BorderWarningDistance = src.Setup.BorderWarningDistance
	}
	if src.Setup.BorderWarningTime != 0 {
		dst.Setup.BorderWarningTime = src.Setup.BorderWarningTime
	}
	if len(src.Setup.Rules) > 0 {
		if dst.Setup.Rules == nil {
			dst.Setup.Rules = make(map[string]any)
		}
		for k, v := range src.Setup.Rules {
			dst.Setup.Rules[k] = v
		}
	}
}

// applyConfigDefaults fills every unset value from Defaults. Configured
// rules are layered over the default rules.
func applyConfigDefaults(cfg *Config) *Config {
	out := Defaults()
	out.Include = cfg.Include
	out.Setup.Rules = DefaultRules()
	out.World.Sources = make(map[string]string)
	mergeConfig(out, cfg)
	return out
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if err := checkUnresolved("state.path", cfg.State.Path); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when the API is enabled")
		}
	}
	if cfg.API.MaxWait <= 0 {
		return fmt.Errorf("api.max_wait must be positive")
	}

	if wh := cfg.Webhooks; wh.Listen != "" {
		if err := checkUnresolved("webhooks.secret", wh.Secret); err != nil {
			return err
		}
		if wh.Secret == "" {
			return fmt.Errorf("webhooks.secret is required when webhooks.listen is set")
		}
		if !strings.HasPrefix(wh.Path, "/") {
			return fmt.Errorf("webhooks.path must start with / (got %q)", wh.Path)
		}
	}

	w := cfg.World
	if w.Container == "" {
		return fmt.Errorf("world.container is required")
	}
	if err := checkUnresolved("world.container", w.Container); err != nil {
		return err
	}
	if w.NamePrefix == "" || strings.ContainsAny(w.NamePrefix, `/\`) {
		return fmt.Errorf("world.name_prefix must be non-empty and contain no path separator (got %q)", w.NamePrefix)
	}
	if w.Radius < 0 {
		return fmt.Errorf("world.radius must not be negative (got %d)", w.Radius)
	}
	if w.MaxRadius <= 0 {
		return fmt.Errorf("world.max_radius must be positive (got %d)", w.MaxRadius)
	}
	if w.Radius > w.MaxRadius {
		return fmt.Errorf("world.radius %d exceeds world.max_radius %d", w.Radius, w.MaxRadius)
	}
	if w.TileEdge <= 0 {
		return fmt.Errorf("world.tile_edge must be positive (got %d)", w.TileEdge)
	}
	if strings.ContainsAny(w.MetadataFile, `/\`) || strings.ContainsAny(w.TileDir, `/\`) {
		return fmt.Errorf("world.metadata_file and world.tile_dir must be plain names")
	}
	for name, dir := range w.Sources {
		if name == "" || dir == "" {
			return fmt.Errorf("world.sources: empty name or directory")
		}
		if err := checkUnresolved("world.sources."+name, dir); err != nil {
			return err
		}
	}

	if w.DefaultSource != "" {
		if _, ok := w.Sources[w.DefaultSource]; !ok {
			return fmt.Errorf("world.default_source %q is not a configured source", w.DefaultSource)
		}
	}

	if cfg.Performance.CopyDelay < 0 {
		return fmt.Errorf("performance.copy_delay must not be negative")
	}
	if cfg.Performance.ProgressInterval < 0 {
		return fmt.Errorf("performance.progress_interval must not be negative")
	}
	if cfg.Setup.BorderWarningTime < 0 {
		return fmt.Errorf("setup.border_warning_time must not be negative")
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
