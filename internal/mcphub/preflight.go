package mcphub

import (
	"context"
	"errors"
	"regexp"
)

var safeVerbPattern = regexp.MustCompile(`^(list|get|search|read|fetch|status|health|info)$`)

// ErrPreflightEmpty is returned when a provider's tools/list yields zero
// tools.
var ErrPreflightEmpty = errors.New("No tools exposed by MCP provider")

// PreflightResult is the report returned to the doctor command.
type PreflightResult struct {
	OK            bool
	ToolCount     int
	ListedTools   []string
	SmokeTool     string
	DeploymentURL string
	Error         string
}

// hasNoRequiredArgs reports whether a tool's inputSchema declares no
// required fields (or no schema at all), making it safe to invoke with
// empty arguments as a liveness probe.
func hasNoRequiredArgs(schema map[string]interface{}) bool {
	if schema == nil {
		return true
	}
	req, ok := schema["required"]
	if !ok {
		return true
	}
	list, ok := req.([]interface{})
	if !ok {
		return true
	}
	return len(list) == 0
}

// Preflight discovers tools for a provider and, when a safe read-only tool
// is found, performs one live invocation as a smoke test.
func Preflight(ctx context.Context, client *Client, deploymentURL string) PreflightResult {
	init, err := client.Initialize(ctx, "gatewaycore", "1.0.0")
	if err != nil {
		return PreflightResult{OK: false, Error: err.Error(), DeploymentURL: deploymentURL}
	}

	tools, err := client.ListTools(ctx, init.URL)
	if err != nil {
		return PreflightResult{OK: false, Error: err.Error(), DeploymentURL: init.URL}
	}
	if len(tools) == 0 {
		return PreflightResult{OK: false, Error: ErrPreflightEmpty.Error(), DeploymentURL: init.URL}
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}

	result := PreflightResult{OK: true, ToolCount: len(tools), ListedTools: names, DeploymentURL: init.URL}

	for _, t := range tools {
		if safeVerbPattern.MatchString(t.Name) && hasNoRequiredArgs(t.InputSchema) {
			if _, err := client.CallTool(ctx, init.URL, t.Name, map[string]interface{}{}, 0); err != nil {
				return PreflightResult{OK: false, Error: err.Error(), DeploymentURL: init.URL, ToolCount: len(tools), ListedTools: names}
			}
			result.SmokeTool = t.Name
			break
		}
	}
	return result
}
