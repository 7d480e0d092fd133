package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

const AppName = "sdxl-sizer"

type (
	ServerConfig struct {
		Listen           string        `yaml:"listen" validate:"required"`
		StaticDir        string        `yaml:"static_dir,omitempty" sanitize:"path_clean" validate:"omitempty,dir"`
		MaxUploadBytes   int64         `yaml:"max_upload_bytes" validate:"min=1024"`
		UploadsPerSecond float64       `yaml:"uploads_per_second" validate:"gt=0"`
		UploadBurst      int           `yaml:"upload_burst" validate:"min=1"`
		ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	}

	CatalogConfig struct {
		Path string `yaml:"path,omitempty" sanitize:"path_clean" validate:"omitempty,file"`
	}

	ImagesConfig struct {
		AutoOrient bool          `yaml:"auto_orient"`
		MaxPixels  int64         `yaml:"max_pixels" validate:"gte=0"`
		CacheTTL   time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	}

	Config struct {
		Version int           `yaml:"version" validate:"eq=1"`
		Server  ServerConfig  `yaml:"server"`
		Catalog CatalogConfig `yaml:"catalog"`
		Images  ImagesConfig  `yaml:"images"`
		Logging LoggingConfig `yaml:"logging"`
	}
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// only fields defined above are accepted
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of the expanded configuration template and
// validates the result.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates the default configuration from the template.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
