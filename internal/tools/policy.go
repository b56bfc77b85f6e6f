package tools

import (
	"strings"

	"github.com/owliabot/owliabot/internal/messages"
	"github.com/owliabot/owliabot/pkg/protocol"
)

// toolGroups lets a policy list refer to "group:name" instead of spelling
// out every member tool.
var toolGroups = map[string][]string{
	"fs":       {"read_file", "write_file", "list_files", "edit_file"},
	"runtime":  {"exec"},
	"web":      {"web_search", "web_fetch"},
	"sessions": {"sessions_list", "sessions_history", "sessions_send"},
}

// RegisterToolGroup adds or replaces a dynamic tool group, used by the MCP
// manager when a remote server's tools should be addressable as a unit
// (e.g. "group:mcp:servername").
func RegisterToolGroup(name string, members []string) {
	toolGroups[name] = members
}

// UnregisterToolGroup removes a dynamic tool group.
func UnregisterToolGroup(name string) {
	delete(toolGroups, name)
}

// toolProfiles are named presets a provider or agent can select instead of
// spelling out an allow list.
var toolProfiles = map[string][]string{
	"minimal": {},
	"read-only": {
		"group:web", "group:sessions", "read_file", "list_files",
	},
	"full": {}, // empty spec = no restriction, handled specially below
}

var toolAliases = map[string]string{
	"bash": "exec",
}

// PolicyAction is the outcome of PolicyEngine.Decide for one tool call.
type PolicyAction string

const (
	ActionAllow    PolicyAction = "allow"
	ActionConfirm  PolicyAction = "confirm"
	ActionEscalate PolicyAction = "escalate"
	ActionDeny     PolicyAction = "deny"
)

// SignerTier names the signing authority a sign-level tool call is routed
// to. The companion-app escalation path has no concrete execution here;
// "escalate" is a terminal policy decision surfaced to the caller.
type SignerTier string

const (
	SignerNone      SignerTier = ""
	SignerLocal     SignerTier = "local"
	SignerCompanion SignerTier = "companion-app"
)

// PolicyDecision is returned by PolicyEngine.Decide for step 2 of the
// executor pipeline.
type PolicyDecision struct {
	Action              PolicyAction
	Tier                string
	SignerTier          SignerTier
	Reason              string
	ConfirmationChannel string
}

// EscalationContext carries the caller identity a policy decision is
// evaluated against.
type EscalationContext struct {
	AgentID      string
	ProviderName string
	Channel      string
	UserID       string
	SessionKey   string
	IsSubagent   bool
}

// GlobalPolicy is the (ambient, externally loaded) tools policy shape. It
// is intentionally small: config/secrets loading is out of scope for the
// core, so this struct is populated by whatever external loader the
// embedding binary uses and handed to NewPolicyEngine.
type GlobalPolicy struct {
	Profile            string
	Allow              []string
	Deny               []string
	AlsoAllow          []string
	ConfirmRequired    []string // tool names that always require confirmation regardless of Security.ConfirmRequired
	ConfirmationAllow  []string // users permitted to approve confirmations; empty = anyone
}

// PolicyEngine evaluates tool access and confirmation requirements.
type PolicyEngine struct {
	global GlobalPolicy
}

// NewPolicyEngine builds a policy engine from the (externally loaded)
// global policy.
func NewPolicyEngine(global GlobalPolicy) *PolicyEngine {
	return &PolicyEngine{global: global}
}

// Decide implements step 2 of the executor pipeline for one call.
func (pe *PolicyEngine) Decide(def ToolDefinition, escalation EscalationContext) PolicyDecision {
	if !pe.isAllowed(def.Name) {
		return PolicyDecision{Action: ActionDeny, Reason: "not allowed by policy"}
	}

	tier := string(protocol.TierFor(def.Security.Level))

	if def.Security.Level == protocol.SecuritySign {
		return PolicyDecision{Action: ActionEscalate, Tier: tier, SignerTier: SignerCompanion,
			Reason: "sign-level tools are routed to the companion signer"}
	}

	needsConfirm := def.Security.ConfirmRequired || contains(pe.global.ConfirmRequired, def.Name) ||
		def.Security.Level == protocol.SecurityWrite
	if needsConfirm {
		return PolicyDecision{Action: ActionConfirm, Tier: tier, Reason: "write tool requires confirmation"}
	}

	return PolicyDecision{Action: ActionAllow, Tier: tier}
}

func (pe *PolicyEngine) isAllowed(name string) bool {
	canonical := resolveAlias(name)
	if len(pe.global.Deny) > 0 && len(expandSpec([]string{canonical}, pe.global.Deny)) > 0 {
		return false
	}
	if len(pe.global.Allow) == 0 {
		return true
	}
	if len(expandSpec([]string{canonical}, pe.global.Allow)) > 0 {
		return true
	}
	return len(expandSpec([]string{canonical}, pe.global.AlsoAllow)) > 0
}

// FilterTools returns the provider-agnostic tool schemas visible this turn,
// after applying the global profile, allow/deny lists, and any per-agent
// additions layered on top by the caller.
func (pe *PolicyEngine) FilterTools(registry *Registry, agentAllow []string, isSubagent bool) []messages.ToolSchema {
	all := registry.List()
	allowed := pe.applyProfile(all, pe.global.Profile)

	if len(pe.global.Allow) > 0 {
		allowed = intersectWithSpec(allowed, pe.global.Allow)
	}
	if len(agentAllow) > 0 {
		allowed = intersectWithSpec(allowed, agentAllow)
	}
	if len(pe.global.Deny) > 0 {
		allowed = subtractSpec(allowed, pe.global.Deny)
	}
	if len(pe.global.AlsoAllow) > 0 {
		allowed = unionWithSpec(allowed, all, pe.global.AlsoAllow)
	}
	if isSubagent {
		allowed = subtractSet(allowed, []string{"exec"})
	}

	resolved := make([]string, 0, len(allowed))
	for _, name := range allowed {
		resolved = append(resolved, resolveAlias(name))
	}
	return registry.SchemasFor(resolved)
}

func (pe *PolicyEngine) applyProfile(all []string, profile string) []string {
	if profile == "" || profile == "full" {
		return copySlice(all)
	}
	spec, ok := toolProfiles[profile]
	if !ok {
		return copySlice(all)
	}
	return expandSpec(all, spec)
}

func expandSpec(available, spec []string) []string {
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			for _, m := range toolGroups[strings.TrimPrefix(s, "group:")] {
				expanded[m] = true
			}
		} else {
			expanded[s] = true
		}
	}
	var out []string
	for _, t := range available {
		if expanded[t] {
			out = append(out, t)
		}
	}
	return out
}

func intersectWithSpec(current, spec []string) []string { return expandSpec(current, spec) }

func subtractSpec(current, spec []string) []string {
	denied := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			for _, m := range toolGroups[strings.TrimPrefix(s, "group:")] {
				denied[m] = true
			}
		} else {
			denied[s] = true
		}
	}
	var out []string
	for _, t := range current {
		if !denied[t] {
			out = append(out, t)
		}
	}
	return out
}

func subtractSet(current, deny []string) []string {
	denied := make(map[string]bool, len(deny))
	for _, d := range deny {
		denied[d] = true
	}
	var out []string
	for _, t := range current {
		if !denied[t] {
			out = append(out, t)
		}
	}
	return out
}

func unionWithSpec(current, all, spec []string) []string {
	existing := make(map[string]bool, len(current))
	for _, t := range current {
		existing[t] = true
	}
	for _, t := range expandSpec(all, spec) {
		if !existing[t] {
			current = append(current, t)
			existing[t] = true
		}
	}
	return current
}

func resolveAlias(name string) string {
	if canonical, ok := toolAliases[name]; ok {
		return canonical
	}
	return name
}

func copySlice(s []string) []string {
	c := make([]string, len(s))
	copy(c, s)
	return c
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
