package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"
)

const (
	DefaultConfigFile = "/etc/rancher/fileguard/config.yaml"
	DefaultWorkDir    = "/var/lib/rancher/fileguard/work"

	OutputPlain = "plain"
	OutputLog   = "log"
)

type GuardConfig struct {
	WorkDir               string   `json:"workDirectory,omitempty"`
	AppliedPlanDir        string   `json:"appliedPlanDirectory,omitempty"`
	LocalPlanDir          string   `json:"localPlanDirectory,omitempty"`
	PreserveWorkDir       bool     `json:"preserveWorkDirectory,omitempty"`
	WatchPaths            []string `json:"watchPaths,omitempty"`
	ServiceName           string   `json:"serviceName,omitempty"`
	Output                string   `json:"output,omitempty"`
	StrictFilePermissions bool     `json:"strictFilePermissions,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() GuardConfig {
	return GuardConfig{
		WorkDir: DefaultWorkDir,
		Output:  OutputPlain,
	}
}

// Parse decodes the JSON or YAML file at path into result. The format is
// picked by file extension.
func Parse(path string, result interface{}) error {
	if path == "" {
		return fmt.Errorf("empty file passed")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	file := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return json.Unmarshal(b, result)
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, result)
	default:
		return fmt.Errorf("file %s was not a JSON or YAML file", file)
	}
}

// Load reads the guard configuration at path on top of Default and validates
// it. With strictFilePermissions set the file itself must be mode 0600 and
// owned by the current user.
func Load(path string) (GuardConfig, error) {
	cfg := Default()
	if err := Parse(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.StrictFilePermissions {
		if err := CheckFilePermissions(path); err != nil {
			return cfg, err
		}
	}
	if cfg.Output == "" {
		cfg.Output = OutputPlain
	}
	return cfg, Validate(&cfg)
}

// CheckFilePermissions verifies that path is private to the current user.
func CheckFilePermissions(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error gathering file information for file %s: %w", path, err)
	}
	if err := permissionsCheck(fi, path); err != nil {
		return err
	}
	return pathOwnedByCurrentUser(path)
}

// Validate reports every problem found in cfg at once.
func Validate(cfg *GuardConfig) error {
	var errs []error

	if cfg.WorkDir == "" {
		errs = append(errs, fmt.Errorf("workDirectory must be set"))
	} else if !filepath.IsAbs(cfg.WorkDir) {
		errs = append(errs, fmt.Errorf("workDirectory %s must be an absolute path", cfg.WorkDir))
	}
	if cfg.AppliedPlanDir != "" && !filepath.IsAbs(cfg.AppliedPlanDir) {
		errs = append(errs, fmt.Errorf("appliedPlanDirectory %s must be an absolute path", cfg.AppliedPlanDir))
	}
	if cfg.LocalPlanDir != "" && !filepath.IsAbs(cfg.LocalPlanDir) {
		errs = append(errs, fmt.Errorf("localPlanDirectory %s must be an absolute path", cfg.LocalPlanDir))
	}
	for i, path := range cfg.WatchPaths {
		if strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Errorf("watchPaths[%d] is empty", i))
		}
	}
	switch cfg.Output {
	case "", OutputPlain, OutputLog:
	default:
		errs = append(errs, fmt.Errorf("output %q must be one of %s, %s", cfg.Output, OutputPlain, OutputLog))
	}

	return utilerrors.NewAggregate(errs)
}
