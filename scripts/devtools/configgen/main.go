// Command configgen renders deployable grader-service and grader-cli configs
// from the checked-in defaults plus a deployment profile.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Profile describes one deployment: shared endpoints plus per-target overlays.
type Profile struct {
	OutputDir string            `yaml:"outputDir"`
	Shared    Endpoints         `yaml:"shared"`
	Services  map[string]Target `yaml:"services"`
}

// Endpoints are written into every target that declares the matching section.
type Endpoints struct {
	RedisAddr    string   `yaml:"redisAddr"`
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	GraderURL    string   `yaml:"graderURL"`
}

type Target struct {
	Base      string         `yaml:"base"`
	Output    string         `yaml:"output"`
	Overrides map[string]any `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	if err := run(*profilePath, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(profilePath, outputDir string) error {
	profilePath, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path: %w", err)
	}
	var profile Profile
	if err := readYAML(profilePath, &profile); err != nil {
		return err
	}
	if len(profile.Services) == 0 {
		return errors.New("profile has no services")
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}

	root := filepath.Dir(profilePath)
	profile.OutputDir = relTo(root, profile.OutputDir)

	names := make([]string, 0, len(profile.Services))
	for name := range profile.Services {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		target := profile.Services[name]
		if target.Base == "" {
			return fmt.Errorf("%s: missing base config", name)
		}
		target.Base = relTo(root, target.Base)

		cfg, err := render(&profile, target)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out, err := resolveOutputPath(profile.OutputDir, target)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := writeYAML(out, cfg); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// render loads the target's base config, overlays its overrides, then the shared endpoints.
func render(profile *Profile, target Target) (map[string]any, error) {
	var cfg map[string]any
	if err := readYAML(target.Base, &cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%s is empty", target.Base)
	}
	overlay(cfg, stringKeys(target.Overrides).(map[string]any))
	applyShared(profile.Shared, cfg)
	return cfg, nil
}

func relTo(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func readYAML(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// resolveOutputPath defaults to the base file name inside outputDir.
func resolveOutputPath(outputDir string, target Target) (string, error) {
	output := target.Output
	if output == "" {
		output = filepath.Base(target.Base)
	}
	if output == "" || output == "." {
		return "", errors.New("output path is empty")
	}
	return relTo(outputDir, output), nil
}

// stringKeys converts nested map[any]any values into map[string]any.
func stringKeys(value any) any {
	switch v := value.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		for k, child := range v {
			v[k] = stringKeysChild(child)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[fmt.Sprint(k)] = stringKeysChild(child)
		}
		return out
	default:
		return value
	}
}

func stringKeysChild(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		for i := range v {
			v[i] = stringKeysChild(v[i])
		}
		return v
	case map[string]any, map[any]any:
		return stringKeys(v)
	default:
		return value
	}
}

// overlay merges src into dst in place; nested sections merge, everything else is replaced.
func overlay(dst, src map[string]any) {
	for key, value := range src {
		if srcSection, ok := value.(map[string]any); ok {
			if dstSection, ok := dst[key].(map[string]any); ok {
				overlay(dstSection, srcSection)
				continue
			}
		}
		dst[key] = value
	}
}

// applyShared sets shared endpoints on sections the config already declares.
func applyShared(shared Endpoints, cfg map[string]any) {
	if redis, ok := cfg["redis"].(map[string]any); ok && shared.RedisAddr != "" {
		redis["addr"] = shared.RedisAddr
	}
	if kafka, ok := cfg["kafka"].(map[string]any); ok && len(shared.KafkaBrokers) > 0 {
		brokers := make([]any, 0, len(shared.KafkaBrokers))
		for _, b := range shared.KafkaBrokers {
			brokers = append(brokers, b)
		}
		kafka["brokers"] = brokers
	}
	if _, ok := cfg["baseURL"]; ok && shared.GraderURL != "" {
		cfg["baseURL"] = shared.GraderURL
	}
}
