package app

import (
	"fmt"
	"strconv"

	"dominds/internal/config"
	"dominds/internal/gateway/websocket"
	"dominds/internal/provider"
)

// agentResolver adapts config.Config.Agents to specialcall.AgentResolver.
// DefaultFBREffort is stored as a string in AgentConfig (an opaque
// pass-through value from YAML) but specialcall needs an int; a value that
// fails to parse falls back to defaultEffort rather than erroring, the same
// "bad config degrades, it doesn't crash the round" posture the Drive
// Executor takes toward malformed special calls.
type agentResolver struct {
	cfg *config.Config
}

const defaultFBREffort = 1

func newAgentResolver(cfg *config.Config) *agentResolver {
	return &agentResolver{cfg: cfg}
}

func (r *agentResolver) DefaultFBREffort(agentID string) int {
	ac, ok := r.cfg.Agents[agentID]
	if !ok || ac.DefaultFBREffort == "" {
		return defaultFBREffort
	}
	effort, err := strconv.Atoi(ac.DefaultFBREffort)
	if err != nil {
		return defaultFBREffort
	}
	return effort
}

// budgetResolver adapts config.Config to the identical MaxDiligencePushBudget
// shape both internal/diligence and internal/gateway/protocol depend on.
// An agent whose config disables diligence entirely reports a zero budget
// regardless of MaxDiligenceBudget; everyone else falls back to the
// workspace-wide ceiling when they don't set their own.
type budgetResolver struct {
	cfg *config.Config
}

func newBudgetResolver(cfg *config.Config) *budgetResolver {
	return &budgetResolver{cfg: cfg}
}

func (r *budgetResolver) MaxDiligencePushBudget(agentID string) int {
	ac, ok := r.cfg.Agents[agentID]
	if !ok {
		return r.cfg.Diligence.MaxBudget
	}
	if ac.DisableDiligence {
		return 0
	}
	if ac.MaxDiligenceBudget > 0 {
		return ac.MaxDiligenceBudget
	}
	return r.cfg.Diligence.MaxBudget
}

// hubNotifier adapts websocket.Hub's typed broadcast to q4h.Notifier.
type hubNotifier struct {
	hub *websocket.Hub
}

func newHubNotifier(hub *websocket.Hub) *hubNotifier {
	return &hubNotifier{hub: hub}
}

func (n *hubNotifier) BroadcastAll(messageType string, data any) error {
	return n.hub.BroadcastTyped(messageType, data)
}

// providerRegistry is the pluggable seam for concrete LLM vendor clients
// (§1 "external collaborator"). Nothing in this codebase constructs a real
// provider.Provider; an embedder registers one per agent (or a default)
// before starting the gateway. Resolve returning an error for an
// unregistered agent is the expected state for a workspace that has not
// been given a provider yet, not a bug.
type providerRegistry struct {
	byAgent  map[string]provider.Provider
	fallback provider.Provider
}

func newProviderRegistry() *providerRegistry {
	return &providerRegistry{byAgent: make(map[string]provider.Provider)}
}

// Register binds agentID to prov. Passing "" registers the fallback used
// for agents with no specific binding.
func (r *providerRegistry) Register(agentID string, prov provider.Provider) {
	if agentID == "" {
		r.fallback = prov
		return
	}
	r.byAgent[agentID] = prov
}

func (r *providerRegistry) Resolve(agentID string) (provider.Provider, error) {
	if prov, ok := r.byAgent[agentID]; ok {
		return prov, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("app: no provider configured for agent %q", agentID)
}
