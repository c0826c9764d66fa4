package rails

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	FlowSelfCheckInput  = "self check input"
	FlowSelfCheckOutput = "self check output"

	ModelTypeMain = "main"

	defaultRefusal         = "I'm sorry, I can't respond to that."
	defaultMaxActionRounds = 5
	defaultRequestTimeout  = 60 * time.Second
)

var configFiles = []string{"config.yml", "config.yaml"}

// Config is the engine configuration read from a config directory.
type Config struct {
	Models             []Model        `yaml:"models" validate:"required,min=1,dive"`
	Instructions       []Instruction  `yaml:"instructions" validate:"dive"`
	SampleConversation string         `yaml:"sample_conversation"`
	Rails              Rails          `yaml:"rails"`
	Actions            []ActionConfig `yaml:"actions" validate:"dive"`
	RefusalMessage     string         `yaml:"refusal_message"`
	MaxActionRounds    int            `yaml:"max_action_rounds" validate:"gte=0,lte=20"`
}

type Model struct {
	Type       string          `yaml:"type" validate:"required"`
	Engine     string          `yaml:"engine" validate:"required,oneof=openai"`
	Model      string          `yaml:"model" validate:"required"`
	Parameters ModelParameters `yaml:"parameters"`
}

type ModelParameters struct {
	BaseURL        string        `yaml:"base_url" validate:"omitempty,url"`
	Temperature    *float64      `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
}

type Instruction struct {
	Type    string `yaml:"type" validate:"required"`
	Content string `yaml:"content" validate:"required"`
}

type Rails struct {
	Input  FlowSet `yaml:"input"`
	Output FlowSet `yaml:"output"`
}

type FlowSet struct {
	Flows []string `yaml:"flows"`
}

func (f FlowSet) Has(flow string) bool {
	for _, fl := range f.Flows {
		if strings.TrimSpace(fl) == flow {
			return true
		}
	}
	return false
}

// ActionConfig overrides how a registered action is described to the model.
type ActionConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
}

// LoadConfig reads config.yml (or config.yaml) from dir, applies defaults and
// validates the result.
func LoadConfig(dir string) (*Config, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("rails: config path must not be empty")
	}

	var (
		data []byte
		path string
		err  error
	)
	for _, name := range configFiles {
		path = filepath.Join(dir, name)
		data, err = os.ReadFile(path)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("rails: read %s: %w", path, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("rails: no %s in %s", strings.Join(configFiles, " or "), dir)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("rails: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a YAML document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RefusalMessage) == "" {
		cfg.RefusalMessage = defaultRefusal
	}
	if cfg.MaxActionRounds == 0 {
		cfg.MaxActionRounds = defaultMaxActionRounds
	}
	for i := range cfg.Models {
		if cfg.Models[i].Parameters.RequestTimeout == 0 {
			cfg.Models[i].Parameters.RequestTimeout = defaultRequestTimeout
		}
	}
}

var validate = validator.New()

// Validate checks struct constraints plus the rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, formatFieldError(fe))
		}
	}

	mains := 0
	for _, m := range cfg.Models {
		if m.Type == ModelTypeMain {
			mains++
		}
	}
	if mains != 1 {
		problems = append(problems, fmt.Sprintf("models: exactly one model of type %q is required (got %d)", ModelTypeMain, mains))
	}
	for _, fl := range cfg.Rails.Input.Flows {
		if strings.TrimSpace(fl) != FlowSelfCheckInput {
			problems = append(problems, fmt.Sprintf("rails.input.flows: unsupported flow %q", fl))
		}
	}
	for _, fl := range cfg.Rails.Output.Flows {
		if strings.TrimSpace(fl) != FlowSelfCheckOutput {
			problems = append(problems, fmt.Sprintf("rails.output.flows: unsupported flow %q", fl))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got: %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}

// MainModel returns the model used for generation.
func (c *Config) MainModel() Model {
	for _, m := range c.Models {
		if m.Type == ModelTypeMain {
			return m
		}
	}
	return Model{}
}
