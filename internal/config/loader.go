package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, then validates it.
//
// The file is taken from configPath, then IMGROUTER_CONFIG, then
// ./config.yaml. A missing implicit file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("IMGROUTER_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// Validate checks that every adapter has a usable catalogue and pool.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ConversionConcurrency <= 0 {
		errs = append(errs, errors.New("server.conversion_concurrency must be positive"))
	}
	if c.Timeouts.API <= 0 || c.Timeouts.Fetch <= 0 || c.Timeouts.Upload <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}

	errs = append(errs, validateCatalog("volcengine", c.VolcEngine.Catalog)...)
	errs = append(errs, validateCatalog("gitee", c.Gitee.Catalog)...)
	errs = append(errs, validateCatalog("modelscope", c.ModelScope.Catalog)...)
	errs = append(errs, validateCatalog("huggingface", c.HuggingFace.Catalog)...)

	if len(c.Gitee.AsyncEditModels) == 0 {
		errs = append(errs, errors.New("gitee.async_edit_models must not be empty"))
	}
	errs = append(errs, validatePoll("gitee", c.Gitee.Poll)...)
	errs = append(errs, validatePoll("modelscope", c.ModelScope.Poll)...)
	errs = append(errs, validatePoll("huggingface", c.HuggingFace.Poll)...)

	if len(c.HuggingFace.GenerationPool) == 0 {
		errs = append(errs, errors.New("huggingface.generation_pool must not be empty"))
	}
	if len(c.HuggingFace.EditPool) == 0 {
		errs = append(errs, errors.New("huggingface.edit_pool must not be empty"))
	}

	switch c.ImageStore.Kind {
	case "imgbed":
		if c.ImageStore.ImgBed.BaseURL == "" {
			errs = append(errs, errors.New("image_store.imgbed.base_url is required"))
		}
	case "s3":
		if c.ImageStore.S3.Bucket == "" || c.ImageStore.S3.PublicBaseURL == "" {
			errs = append(errs, errors.New("image_store.s3 requires bucket and public_base_url"))
		}
		if c.ImageStore.S3.Region == "" {
			errs = append(errs, errors.New("image_store.s3.region is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("image_store.kind %q is not supported", c.ImageStore.Kind))
	}

	return errors.Join(errs...)
}

func validateCatalog(name string, c Catalog) []error {
	var errs []error
	if len(c.Models) == 0 || len(c.EditModels) == 0 {
		errs = append(errs, fmt.Errorf("%s: models and edit_models must not be empty", name))
	}
	if !slices.Contains(c.Models, c.DefaultModel) {
		errs = append(errs, fmt.Errorf("%s: default_model %q is not in models", name, c.DefaultModel))
	}
	if c.DefaultSize == "" || c.DefaultEditSize == "" {
		errs = append(errs, fmt.Errorf("%s: default sizes are required", name))
	}
	return errs
}

func validatePoll(name string, p PollConfig) []error {
	if p.Interval <= 0 || p.MaxAttempts <= 0 {
		return []error{fmt.Errorf("%s: poll interval and max_attempts must be positive", name)}
	}
	return nil
}
