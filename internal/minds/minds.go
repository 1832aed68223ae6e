// Package minds supplies the Drive Executor's per-agent system prompt and
// tool catalogue (internal/drive.Minds) from the workspace's configured
// agents, the external collaborator internal/drive depends on without
// owning (§1).
package minds

import (
	"encoding/json"
	"fmt"
	"os"

	"dominds/internal/config"
	"dominds/internal/provider"
)

// Minds is a config-backed implementation of internal/drive.Minds.
type Minds struct {
	cfg *config.Config
}

// New constructs a Minds reading from cfg.Agents.
func New(cfg *config.Config) *Minds {
	return &Minds{cfg: cfg}
}

func (m *Minds) agent(agentID string) config.AgentConfig {
	if ac, ok := m.cfg.Agents[agentID]; ok {
		return ac
	}
	return config.AgentConfig{Name: agentID}
}

// SystemPrompt renders the first system turn for agentID: its configured
// identity plus the task document's contents, the way an agent's priming
// context is assembled before its first round (§3
// RootDialog.subdialogAgentPrimingMode).
func (m *Minds) SystemPrompt(agentID, taskDocPath string) (string, error) {
	ac := m.agent(agentID)
	doc, err := os.ReadFile(taskDocPath)
	if err != nil {
		return "", fmt.Errorf("minds: read task doc %s: %w", taskDocPath, err)
	}
	return fmt.Sprintf("You are %s.\n\n%s", ac.Name, string(doc)), nil
}

// Tools returns the fixed special-call tool catalogue every agent gets
// (internal/specialcall is the only thing that ever executes them), plus
// whatever other tool names the agent's config lists as bare
// name-only passthrough declarations for an external tool runner this core
// does not implement.
func (m *Minds) Tools(agentID string) ([]provider.Tool, error) {
	tools := append([]provider.Tool(nil), specialCallTools...)
	for _, name := range m.agent(agentID).Tools {
		tools = append(tools, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name: name,
			},
		})
	}
	return tools, nil
}

// Model returns agentID's configured model identifier.
func (m *Minds) Model(agentID string) string {
	return m.agent(agentID).Model
}

func mustSchema(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

var specialCallTools = []provider.Tool{
	{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        "tellask",
			Description: "Delegate to a session-keyed teammate dialog, reusing an existing session if sessionSlug matches one already in flight.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"targetAgentId": map[string]any{"type": "string"},
					"sessionSlug":   map[string]any{"type": "string"},
					"mentionList":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"content":       map[string]any{"type": "string"},
				},
				"required": []string{"targetAgentId", "sessionSlug", "content"},
			}),
		},
	},
	{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        "tellaskBack",
			Description: "Reply to the supdialog that spawned this subdialog.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"content"},
			}),
		},
	},
	{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        "tellaskSessionless",
			Description: "Delegate a one-shot task to a teammate dialog with no session reuse.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"targetAgentId": map[string]any{"type": "string"},
					"mentionList":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"content":       map[string]any{"type": "string"},
				},
				"required": []string{"targetAgentId", "content"},
			}),
		},
	},
	{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        "askHuman",
			Description: "Ask a human a question and suspend until it is answered.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"content"},
			}),
		},
	},
	{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        "freshBootsReasoning",
			Description: "Spawn a self-directed subdialog that reasons over several independent rounds before replying.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
					"effort":  map[string]any{"type": "integer"},
				},
				"required": []string{"content"},
			}),
		},
	},
}
