package toolsfabric

import (
	"strings"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
)

// toolGroups maps group names to tool names; RegisterGroup lets the MCP hub
// register a dynamic "mcp:<name>" group at connect time, mirroring the
// policy engine's dynamic-group mechanism.
var toolGroups = map[string][]string{}

// RegisterGroup adds or replaces a dynamic tool group.
func RegisterGroup(name string, members []string) {
	toolGroups[name] = members
}

// UnregisterGroup removes a dynamic tool group.
func UnregisterGroup(name string) {
	delete(toolGroups, name)
}

var toolProfiles = map[string][]string{
	"minimal": {},
	"full":    {}, // empty spec = no restriction
}

// RegisterProfile adds or replaces a named tool profile (an allow spec,
// possibly containing "group:xxx" entries).
func RegisterProfile(name string, spec []string) {
	toolProfiles[name] = spec
}

// Policy evaluates tool access from a configstore.ToolsConfig through this
// pipeline: global profile → provider profile override → global allow →
// provider allow override → per-agent allow → group allow, then global
// deny → agent deny → additive alsoAllow at global and agent scope.
type Policy struct {
	global *configstore.ToolsConfig
}

func NewPolicy(global *configstore.ToolsConfig) *Policy {
	return &Policy{global: global}
}

// Filter returns the subset of allNames allowed for providerID under the
// given per-agent override and group allow-list.
func (p *Policy) Filter(allNames []string, providerID string, agentPolicy *configstore.ToolPolicySpec, groupAllow []string) []string {
	g := p.global
	if g == nil {
		g = &configstore.ToolsConfig{Profile: "full"}
	}

	allowed := p.applyProfile(allNames, g.Profile)

	if g.ByProvider != nil {
		if pp, ok := g.ByProvider[providerID]; ok && pp.Profile != "" {
			allowed = p.applyProfile(allNames, pp.Profile)
		}
	}

	if len(g.Allow) > 0 {
		allowed = intersectSpec(allowed, g.Allow)
	}
	if g.ByProvider != nil {
		if pp, ok := g.ByProvider[providerID]; ok && len(pp.Allow) > 0 {
			allowed = intersectSpec(allowed, pp.Allow)
		}
	}
	if agentPolicy != nil && len(agentPolicy.Allow) > 0 {
		allowed = intersectSpec(allowed, agentPolicy.Allow)
	}
	if len(groupAllow) > 0 {
		allowed = intersectSpec(allowed, groupAllow)
	}

	if len(g.Deny) > 0 {
		allowed = subtractSpec(allowed, g.Deny)
	}
	if agentPolicy != nil && len(agentPolicy.Deny) > 0 {
		allowed = subtractSpec(allowed, agentPolicy.Deny)
	}

	if len(g.AlsoAllow) > 0 {
		allowed = unionSpec(allowed, allNames, g.AlsoAllow)
	}
	if agentPolicy != nil && len(agentPolicy.AlsoAllow) > 0 {
		allowed = unionSpec(allowed, allNames, agentPolicy.AlsoAllow)
	}

	return allowed
}

func (p *Policy) applyProfile(allNames []string, profile string) []string {
	if profile == "" || profile == "full" {
		return copySlice(allNames)
	}
	spec, ok := toolProfiles[profile]
	if !ok {
		return copySlice(allNames)
	}
	return expandSpec(allNames, spec)
}

func expand(spec []string) map[string]bool {
	out := map[string]bool{}
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			for _, m := range toolGroups[strings.TrimPrefix(s, "group:")] {
				out[m] = true
			}
			continue
		}
		out[s] = true
	}
	return out
}

func expandSpec(available, spec []string) []string {
	set := expand(spec)
	var out []string
	for _, t := range available {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}

func intersectSpec(current, spec []string) []string { return expandSpec(current, spec) }

func subtractSpec(current, spec []string) []string {
	set := expand(spec)
	var out []string
	for _, t := range current {
		if !set[t] {
			out = append(out, t)
		}
	}
	return out
}

func unionSpec(current, allNames, spec []string) []string {
	existing := map[string]bool{}
	for _, t := range current {
		existing[t] = true
	}
	for _, t := range expandSpec(allNames, spec) {
		if !existing[t] {
			current = append(current, t)
			existing[t] = true
		}
	}
	return current
}

func copySlice(s []string) []string {
	c := make([]string, len(s))
	copy(c, s)
	return c
}
