package sessionstore

import (
	"fmt"
	"regexp"
	"strings"
)

// BuildKey builds the canonical session key:
//
//	agent:<agentId>:<channel>:<scope>:<addr>[:thread:<threadID>]
func BuildKey(agentID, channel, scope, addr, threadID string) string {
	key := fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, scope, addr)
	if threadID != "" {
		key += ":thread:" + threadID
	}
	return key
}

// ParsedKey is the structural breakdown of a canonical session key.
type ParsedKey struct {
	AgentID  string
	Channel  string
	Scope    string
	Addr     string
	ThreadID string
}

// ParseKey decomposes a canonical session key. ok is false if key does not
// have the minimum agent:channel:scope:addr shape.
func ParseKey(key string) (ParsedKey, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 5 || parts[0] != "agent" {
		return ParsedKey{}, false
	}
	pk := ParsedKey{AgentID: parts[1], Channel: parts[2], Scope: parts[3], Addr: parts[4]}
	if len(parts) >= 7 && parts[5] == "thread" {
		pk.ThreadID = parts[6]
	}
	return pk, true
}

var legacyDesktopNode = regexp.MustCompile(`^(.*:)(desktop-node-|desktop-|node-)([a-zA-Z0-9._-]+)$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases s and collapses non-alphanumerics to '-', matching the
// legacy-key migration rule in §4.J.
func slugify(s string, maxLen int) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// SanitizeLegacyKey rewrites a legacy node-backed session key ending in
// "desktop-<nodeId>", "desktop-node-<nodeId>", or "node-<nodeId>" into the
// canonical "...-<slug>" suffix: a 48-char slug of displayName if
// non-empty, else a 12-char slug of nodeID. Returns the original key
// unchanged (ok=false) if it does not match a legacy shape.
func SanitizeLegacyKey(key, nodeID, displayName string) (sanitized string, ok bool) {
	m := legacyDesktopNode.FindStringSubmatch(key)
	if m == nil {
		return key, false
	}
	prefix := m[1]
	var slug string
	if displayName != "" {
		slug = slugify(displayName, 48)
	}
	if slug == "" {
		slug = slugify(nodeID, 12)
	}
	return prefix + slug, true
}
