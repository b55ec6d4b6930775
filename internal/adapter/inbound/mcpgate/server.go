// Package mcpgate exposes the Decision Pipeline as a single-tool MCP
// server over stdio: an MCP-speaking agent calls submit_action in place of
// performing the action directly, and receives the engine's verdict as the
// tool result instead of proxying the call through untouched.
package mcpgate

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/service"
)

// Gate wires a DecisionService to an MCP server exposing submit_action.
type Gate struct {
	server *mcp.Server
	svc    *service.DecisionService
}

// NewGate builds an MCP server named actiongate and registers submit_action
// against svc. impl identifies this server to connecting clients; callers
// typically pass the CLI's own name and version.
func NewGate(svc *service.DecisionService, impl *mcp.Implementation) *Gate {
	if impl == nil {
		impl = &mcp.Implementation{Name: "actiongate", Version: "dev"}
	}

	server := mcp.NewServer(impl, nil)
	g := &Gate{server: server, svc: svc}

	mcp.AddTool(server, &mcp.Tool{
		Name: "submit_action",
		Description: "Submit an intended agent action for policy evaluation. Returns " +
			"whether the action is allowed, blocked, or refused by a quota, without " +
			"performing the action itself. Set simulate=true to check the verdict " +
			"a real call would receive without recording quota usage or an audit entry.",
	}, g.submitAction)

	return g
}

// Run serves submit_action over stdio until ctx is cancelled or the client
// disconnects.
func (g *Gate) Run(ctx context.Context) error {
	if err := g.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpgate: serve stdio: %w", err)
	}
	return nil
}

// submitActionInput is the submit_action tool's argument shape.
type submitActionInput struct {
	ProjectID  string         `json:"project_id" mcp:"the policy project this action is evaluated against"`
	AgentName  string         `json:"agent_name" mcp:"the name of the agent requesting the action"`
	ActionType string         `json:"action_type" mcp:"the action's type, matched against policy rules"`
	Params     map[string]any `json:"params,omitempty" mcp:"action parameters checked against rule constraints"`
	Simulate   bool           `json:"simulate,omitempty" mcp:"evaluate the verdict without recording quota usage or an audit entry"`
}

// submitActionOutput mirrors gateway.Decision for the tool's structured
// result.
type submitActionOutput struct {
	Allowed         bool    `json:"allowed"`
	ActionID        string  `json:"action_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	PolicyVersion   string  `json:"policy_version"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	Simulated       bool    `json:"simulated"`
}

func (g *Gate) submitAction(ctx context.Context, _ *mcp.CallToolRequest, in submitActionInput) (*mcp.CallToolResult, submitActionOutput, error) {
	action := gateway.Action{
		ProjectID:  in.ProjectID,
		AgentName:  in.AgentName,
		ActionType: in.ActionType,
		Params:     in.Params,
	}

	decision, err := g.svc.Decide(ctx, action, service.DecideOptions{Simulate: in.Simulate})
	if err != nil {
		return nil, submitActionOutput{}, fmt.Errorf("mcpgate: submit_action: %w", err)
	}

	out := submitActionOutput{
		Allowed:         decision.Allowed,
		Reason:          decision.Reason,
		PolicyVersion:   decision.PolicyVersion,
		ExecutionTimeMS: decision.ExecutionTimeMS,
		Simulated:       decision.Simulated,
	}
	if decision.ActionID != nil {
		out.ActionID = *decision.ActionID
	}

	summary := "action allowed"
	if !decision.Allowed {
		summary = "action blocked: " + decision.Reason
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: summary}},
	}, out, nil
}
