package minds

import (
	"os"
	"path/filepath"
	"testing"

	"dominds/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Agents: map[string]config.AgentConfig{
			"reviewer": {
				Name:  "Reviewer",
				Model: "gpt-5",
				Tools: []string{"search_code"},
			},
		},
	}
}

func TestSystemPromptRendersTaskDoc(t *testing.T) {
	dir := t.TempDir()
	taskDoc := filepath.Join(dir, "task.md")
	if err := os.WriteFile(taskDoc, []byte("Review the diff."), 0o600); err != nil {
		t.Fatal(err)
	}

	m := New(testConfig())
	prompt, err := m.SystemPrompt("reviewer", taskDoc)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}

	want := "You are Reviewer.\n\nReview the diff."
	if prompt != want {
		t.Errorf("SystemPrompt = %q, want %q", prompt, want)
	}
}

func TestSystemPromptUnknownAgentFallsBackToID(t *testing.T) {
	dir := t.TempDir()
	taskDoc := filepath.Join(dir, "task.md")
	if err := os.WriteFile(taskDoc, []byte("do work"), 0o600); err != nil {
		t.Fatal(err)
	}

	m := New(testConfig())
	prompt, err := m.SystemPrompt("ghost", taskDoc)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if prompt != "You are ghost.\n\ndo work" {
		t.Errorf("SystemPrompt = %q", prompt)
	}
}

func TestSystemPromptMissingTaskDoc(t *testing.T) {
	m := New(testConfig())
	if _, err := m.SystemPrompt("reviewer", "/nonexistent/task.md"); err == nil {
		t.Error("expected error reading missing task doc")
	}
}

func TestToolsIncludesSpecialCallsAndConfigured(t *testing.T) {
	m := New(testConfig())
	tools, err := m.Tools("reviewer")
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Function.Name] = true
	}

	for _, want := range []string{"tellask", "tellaskBack", "tellaskSessionless", "askHuman", "freshBootsReasoning", "search_code"} {
		if !names[want] {
			t.Errorf("Tools missing %q", want)
		}
	}
}

func TestToolsUnknownAgentGetsOnlySpecialCalls(t *testing.T) {
	m := New(testConfig())
	tools, err := m.Tools("ghost")
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(tools) != len(specialCallTools) {
		t.Errorf("len(tools) = %d, want %d", len(tools), len(specialCallTools))
	}
}

func TestModel(t *testing.T) {
	m := New(testConfig())
	if got := m.Model("reviewer"); got != "gpt-5" {
		t.Errorf("Model = %q, want gpt-5", got)
	}
	if got := m.Model("ghost"); got != "" {
		t.Errorf("Model for unknown agent = %q, want empty", got)
	}
}
