package adapter

import (
	"strings"
	"testing"
)

const sampleYAML = `
adapters:
  - id: claude
    command: claude
    args: ["-p"]
    prompt_via: stdin
  - id: gemini
    command: gemini
    args: ["--prompt", "{{prompt}}"]
    prompt_via: arg
    env:
      GEMINI_SANDBOX: "false"
  - id: boxed
    command: agent
    sandbox: docker
    docker_image: agent:latest
`

func TestParseCatalogue(t *testing.T) {
	cat, err := ParseCatalogue([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Adapters) != 3 {
		t.Fatalf("got %d adapters", len(cat.Adapters))
	}
	if cat.Adapters[0].Sandbox != SandboxHost {
		t.Errorf("sandbox default = %q", cat.Adapters[0].Sandbox)
	}
	if cat.Adapters[2].PromptVia != PromptViaStdin {
		t.Errorf("prompt_via default = %q", cat.Adapters[2].PromptVia)
	}
}

func TestParseCatalogueRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "adapters: []", "empty"},
		{"missing command", "adapters:\n  - id: x", "missing command"},
		{"duplicate id", "adapters:\n  - {id: x, command: a}\n  - {id: x, command: b}", "duplicate"},
		{"docker without image", "adapters:\n  - {id: x, command: a, sandbox: docker}", "docker_image"},
		{"arg without placeholder", "adapters:\n  - {id: x, command: a, prompt_via: arg}", "placeholder"},
		{"bad sandbox", "adapters:\n  - {id: x, command: a, sandbox: vm}", "unknown sandbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalogue([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestCommandLineInterpolation(t *testing.T) {
	cfg := AdapterConfig{
		ID: "gemini", Command: "gemini",
		Args:      []string{"--prompt", "{{prompt}}"},
		Sandbox:   SandboxHost,
		PromptVia: PromptViaArg,
	}
	name, args := cfg.commandLine("fix the bug")
	if name != "gemini" || args[1] != "fix the bug" {
		t.Errorf("commandLine = %s %v", name, args)
	}

	// stdin mode leaves the placeholder text alone
	cfg.PromptVia = PromptViaStdin
	_, args = cfg.commandLine("fix the bug")
	if args[1] != "{{prompt}}" {
		t.Errorf("stdin mode interpolated argv: %v", args)
	}
}

func TestCommandLineDockerWrap(t *testing.T) {
	cfg := AdapterConfig{
		ID: "boxed", Command: "agent",
		Args:        []string{"--yolo"},
		Sandbox:     SandboxDocker,
		DockerImage: "agent:latest",
		PromptVia:   PromptViaStdin,
	}
	name, args := cfg.commandLine("p")
	if name != "docker" {
		t.Fatalf("name = %q", name)
	}
	want := []string{"run", "--rm", "-i", "agent:latest", "agent", "--yolo"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
