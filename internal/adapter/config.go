// Package adapter runs external agent CLIs as subprocesses with ordered
// fallback across a configured catalogue.
package adapter

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt delivery modes.
const (
	PromptViaStdin = "stdin"
	PromptViaArg   = "arg"
)

// Sandbox modes.
const (
	SandboxHost   = "host"
	SandboxDocker = "docker"
)

// promptPlaceholder is replaced in argv when PromptVia is "arg".
const promptPlaceholder = "{{prompt}}"

// AdapterConfig describes one external CLI agent.
type AdapterConfig struct {
	ID         string            `yaml:"id"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`
	Sandbox    string            `yaml:"sandbox"`
	// DockerImage is required when Sandbox is "docker".
	DockerImage string `yaml:"docker_image"`
	PromptVia   string `yaml:"prompt_via"`
}

// Catalogue is the ordered adapter list as loaded from YAML. Order is the
// fallback order.
type Catalogue struct {
	Adapters []AdapterConfig `yaml:"adapters"`
}

// LoadCatalogue reads and validates an adapters YAML file.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapters catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates catalogue YAML.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse adapters catalogue: %w", err)
	}
	if len(cat.Adapters) == 0 {
		return nil, fmt.Errorf("adapters catalogue is empty")
	}
	seen := make(map[string]bool, len(cat.Adapters))
	for i := range cat.Adapters {
		a := &cat.Adapters[i]
		if err := a.normalize(); err != nil {
			return nil, fmt.Errorf("adapter %d (%q): %w", i, a.ID, err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate adapter id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return &cat, nil
}

func (a *AdapterConfig) normalize() error {
	if a.ID == "" {
		return fmt.Errorf("missing id")
	}
	if a.Command == "" {
		return fmt.Errorf("missing command")
	}
	if a.Sandbox == "" {
		a.Sandbox = SandboxHost
	}
	if a.Sandbox != SandboxHost && a.Sandbox != SandboxDocker {
		return fmt.Errorf("unknown sandbox %q", a.Sandbox)
	}
	if a.Sandbox == SandboxDocker && a.DockerImage == "" {
		return fmt.Errorf("docker sandbox requires docker_image")
	}
	if a.PromptVia == "" {
		a.PromptVia = PromptViaStdin
	}
	if a.PromptVia != PromptViaStdin && a.PromptVia != PromptViaArg {
		return fmt.Errorf("unknown prompt_via %q", a.PromptVia)
	}
	if a.PromptVia == PromptViaArg && !containsPlaceholder(a.Args) {
		return fmt.Errorf("prompt_via arg requires a %s placeholder in args", promptPlaceholder)
	}
	return nil
}

func containsPlaceholder(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, promptPlaceholder) {
			return true
		}
	}
	return false
}

// commandLine resolves the final argv for one invocation: prompt
// interpolation first, then the sandbox wrapper.
func (a *AdapterConfig) commandLine(prompt string) (name string, args []string) {
	args = make([]string, len(a.Args))
	for i, arg := range a.Args {
		if a.PromptVia == PromptViaArg {
			args[i] = strings.ReplaceAll(arg, promptPlaceholder, prompt)
		} else {
			args[i] = arg
		}
	}
	if a.Sandbox == SandboxDocker {
		wrapped := []string{"run", "--rm", "-i", a.DockerImage, a.Command}
		return "docker", append(wrapped, args...)
	}
	return a.Command, args
}
