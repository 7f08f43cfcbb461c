package robots

import (
	"sort"
	"strings"
)

// AgentResolver picks the directive group that applies to a client identity.
// groups are the lower-cased user-agent tokens of one robots.txt file.
// It returns false when no group applies.
type AgentResolver interface {
	Resolve(groups []string, userAgent string) (string, bool)
}

// SubstringAgentResolver matches a group when its token occurs anywhere in the
// lower-cased client identity, so "examplebot" governs
// "Mozilla/5.0 (compatible; ExampleBot/1.0)". When several tokens occur the
// longest wins, ties go to the lexicographically smallest. Without a match the
// wildcard group applies if present.
type SubstringAgentResolver struct{}

func (SubstringAgentResolver) Resolve(groups []string, userAgent string) (string, bool) {
	return ResolveAgentGroup(groups, userAgent)
}

// ResolveAgentGroup implements SubstringAgentResolver.
func ResolveAgentGroup(groups []string, userAgent string) (string, bool) {
	identity := strings.ToLower(userAgent)

	best := ""
	hasWildcard := false
	for _, group := range groups {
		token := strings.ToLower(group)
		if token == WildcardAgent {
			hasWildcard = true
			continue
		}
		if token == "" || !strings.Contains(identity, token) {
			continue
		}
		if len(token) > len(best) || (len(token) == len(best) && token < best) {
			best = token
		}
	}

	if best != "" {
		return best, true
	}
	if hasWildcard {
		return WildcardAgent, true
	}
	return "", false
}

// agentTokens lists the distinct user-agent tokens declared in a robots.txt
// body, lower-cased, sorted.
func agentTokens(body []byte) []string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(body), "\n") {
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		field, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		if field != "user-agent" && field != "useragent" {
			continue
		}
		token := strings.ToLower(strings.TrimSpace(value))
		if token != "" {
			seen[token] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
