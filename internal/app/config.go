package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultStateURL keeps execution records next to the working directory.
const DefaultStateURL = "sqlite://.deploygrid/state.db"

// Config holds all the necessary configuration for an App instance to run.
// Field names double as keys of the optional YAML config file.
type Config struct {
	// Paths are declaration files or directories. Required for loading.
	Paths    []string `yaml:"paths" validate:"dive,required"`
	StateURL string   `yaml:"state" validate:"required"`

	Workers              int           `yaml:"workers" validate:"gte=1,lte=1024"`
	MaxAttempts          int           `yaml:"maxAttempts" validate:"gte=1,lte=100"`
	RetryInitialInterval time.Duration `yaml:"retryInitialInterval" validate:"gte=0"`
	RetryMaxInterval     time.Duration `yaml:"retryMaxInterval" validate:"gte=0"`
	ContinueOnFailure    bool          `yaml:"continueOnFailure"`

	// DefaultProcess runs targets that declare no process script.
	DefaultProcess string        `yaml:"defaultProcess"`
	ScriptTimeout  time.Duration `yaml:"scriptTimeout" validate:"gte=0"`
	// Env is passed to every process script as KEY=VALUE pairs.
	Env []string `yaml:"env" validate:"dive,contains=="`

	LogFormat   string `yaml:"logFormat" validate:"oneof=text json"`
	LogLevel    string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	MetricsPort int    `yaml:"metricsPort" validate:"gte=0,lte=65535"`
	NotifyURL   string `yaml:"notifyURL" validate:"omitempty,url"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		StateURL:    DefaultStateURL,
		Workers:     4,
		MaxAttempts: 1,
		LogFormat:   "text",
		LogLevel:    "info",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports all violations at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Namespace()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch fe.Tag() {
	case "required", "min":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", name, fe.Value())
	case "contains":
		return fmt.Sprintf("%s must be KEY=VALUE, got %q", name, fe.Value())
	default:
		return fmt.Sprintf("%s fails %s=%s (got %v)", name, fe.Tag(), fe.Param(), fe.Value())
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
