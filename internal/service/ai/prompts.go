package ai

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//go:embed prompts/*.yaml
var defaultPrompts embed.FS

// CallConfig is one LLM call: its Jinja2 prompts and sampling temperature.
type CallConfig struct {
	SystemPrompt string   `koanf:"system_prompt"`
	UserPrompt   string   `koanf:"user_prompt"`
	Temperature  *float64 `koanf:"temperature"`
}

// PromptSet maps each model-backed stage to its call configuration.
type PromptSet map[Stage]CallConfig

// promptFiles names the YAML file (without extension) for each stage.
var promptFiles = map[Stage]string{
	StageImagine:  "business_generation",
	StageGenerate: "XML_generation",
	StageRepair:   "XML_repair",
}

// LoadPrompts reads the built-in call configs and overlays any
// <name>.yaml found in dir. An empty dir uses the built-ins only.
func LoadPrompts(dir string) (PromptSet, error) {
	set := make(PromptSet, len(promptFiles))
	for stage, name := range promptFiles {
		cfg, err := loadCallConfig(dir, name)
		if err != nil {
			return nil, err
		}
		set[stage] = cfg
	}
	return set, nil
}

func loadCallConfig(dir, name string) (CallConfig, error) {
	k := koanf.New(".")

	builtin, err := defaultPrompts.ReadFile("prompts/" + name + ".yaml")
	if err != nil {
		return CallConfig{}, fmt.Errorf("reading built-in prompt %s: %w", name, err)
	}
	if err := k.Load(bytesProvider(builtin), yaml.Parser()); err != nil {
		return CallConfig{}, fmt.Errorf("parsing built-in prompt %s: %w", name, err)
	}

	if dir != "" {
		path := filepath.Join(dir, name+".yaml")
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return CallConfig{}, fmt.Errorf("reading prompt %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return CallConfig{}, fmt.Errorf("accessing prompt %s: %w", path, err)
		}
	}

	var cfg CallConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return CallConfig{}, fmt.Errorf("unmarshalling prompt %s: %w", name, err)
	}
	if cfg.SystemPrompt == "" || cfg.UserPrompt == "" {
		return CallConfig{}, fmt.Errorf("prompt %s: system_prompt and user_prompt are required", name)
	}
	return cfg, nil
}

// bytesProvider feeds an in-memory YAML document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("bytes provider does not support Read()")
}
