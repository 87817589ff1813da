package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/handlers"
	"github.com/MegaGrindStone/veo-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

// previewStore is a handlers.PreviewStore that has to be closed on shutdown.
type previewStore interface {
	handlers.PreviewStore
	Close() error
}

type previewsConfig interface {
	store(cfgPath string) (previewStore, error)
}

// BasePreviewsConfig contains the common fields for all preview store configurations.
type BasePreviewsConfig struct {
	Driver string `yaml:"driver"`
}

type config struct {
	Port         string         `yaml:"port"`
	GeneratorURL string         `yaml:"generatorURL"`
	Greeting     *string        `yaml:"greeting"`
	LogLevel     string         `yaml:"logLevel"`
	LogFormat    string         `yaml:"logFormat"`
	Previews     previewsConfig `yaml:"previews"`

	SessionTTL       time.Duration `yaml:"sessionTTL"`
	MaxUploadMB      int64         `yaml:"maxUploadMB"`
	SubmitRateLimit  int           `yaml:"submitRateLimit"`
	SubmitRateWindow time.Duration `yaml:"submitRateWindow"`
	AllowedOrigins   []string      `yaml:"allowedOrigins"`
}

type memoryPreviewsConfig struct {
	BasePreviewsConfig `yaml:",inline"`
}

type boltPreviewsConfig struct {
	BasePreviewsConfig `yaml:",inline"`
	Path               string `yaml:"path"`
}

const (
	defaultPort         = "8080"
	defaultGeneratorURL = "http://localhost:5001/generate-video"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port             string         `yaml:"port"`
		GeneratorURL     string         `yaml:"generatorURL"`
		Greeting         *string        `yaml:"greeting"`
		LogLevel         string         `yaml:"logLevel"`
		LogFormat        string         `yaml:"logFormat"`
		Previews         map[string]any `yaml:"previews"`
		SessionTTL       time.Duration  `yaml:"sessionTTL"`
		MaxUploadMB      int64          `yaml:"maxUploadMB"`
		SubmitRateLimit  int            `yaml:"submitRateLimit"`
		SubmitRateWindow time.Duration  `yaml:"submitRateWindow"`
		AllowedOrigins   []string       `yaml:"allowedOrigins"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.GeneratorURL = rawConfig.GeneratorURL
	c.Greeting = rawConfig.Greeting
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat
	c.SessionTTL = rawConfig.SessionTTL
	c.MaxUploadMB = rawConfig.MaxUploadMB
	c.SubmitRateLimit = rawConfig.SubmitRateLimit
	c.SubmitRateWindow = rawConfig.SubmitRateWindow
	c.AllowedOrigins = rawConfig.AllowedOrigins

	if rawConfig.Previews == nil {
		return nil
	}

	driver, ok := rawConfig.Previews["driver"].(string)
	if !ok {
		return fmt.Errorf("previews driver is required")
	}

	previewsRawYAML, err := yaml.Marshal(rawConfig.Previews)
	if err != nil {
		return err
	}

	var previews previewsConfig
	switch driver {
	case "memory":
		previews = &memoryPreviewsConfig{}
	case "bolt":
		previews = &boltPreviewsConfig{}
	default:
		return fmt.Errorf("unknown previews driver: %s", driver)
	}

	if err := yaml.Unmarshal(previewsRawYAML, previews); err != nil {
		return err
	}

	c.Previews = previews
	return nil
}

// loadConfig decodes the YAML document from r. An empty document yields the defaults.
func loadConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv lets the environment override the settings most often changed per deployment.
func (c *config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("VIDEO_GENERATOR_URL")); v != "" {
		c.GeneratorURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.GeneratorURL == "" {
		c.GeneratorURL = defaultGeneratorURL
	}
	if c.Greeting == nil {
		greeting := handlers.DefaultGreeting
		c.Greeting = &greeting
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.Previews == nil {
		c.Previews = &memoryPreviewsConfig{BasePreviewsConfig{Driver: "memory"}}
	}
}

func (c config) handlersConfig() handlers.Config {
	return handlers.Config{
		Greeting:         *c.Greeting,
		SessionTTL:       c.SessionTTL,
		MaxUploadBytes:   c.MaxUploadMB << 20,
		SubmitRateLimit:  c.SubmitRateLimit,
		SubmitRateWindow: c.SubmitRateWindow,
		AllowedOrigins:   c.AllowedOrigins,
	}
}

func (c config) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch c.LogFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
}

func (memoryPreviewsConfig) store(string) (previewStore, error) {
	return services.NewMemoryPreviews(), nil
}

func (b boltPreviewsConfig) store(cfgPath string) (previewStore, error) {
	path := b.Path
	if path == "" {
		path = filepath.Join(cfgPath, "previews.db")
	}
	s, err := services.NewBoltPreviews(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
