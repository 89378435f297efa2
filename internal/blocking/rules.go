// Package blocking builds host-redirect rules for blocked sites and installs
// them into a rule engine that may be shared by several processes.
package blocking

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// RuleIDBase is the first id handed to a blocking rule.
const RuleIDBase = 1000

// ResourceMainFrame is the only resource type blocking rules apply to.
const ResourceMainFrame = "main_frame"

// Rule redirects top-level navigation to Host (and its subdomains) to
// RedirectPath.
type Rule struct {
	ID            int      `json:"id"`
	Priority      int      `json:"priority"`
	URLFilter     string   `json:"urlFilter"`
	Host          string   `json:"host"`
	RedirectPath  string   `json:"redirectPath"`
	ResourceTypes []string `json:"resourceTypes"`
}

// Engine installs and reports dynamic rules.
// UpdateDynamicRules removes removeIDs then adds add, atomically.
// ReplaceDynamicRules removes every rule with an id of RuleIDBase or more,
// whoever installed it, then adds add, atomically.
type Engine interface {
	UpdateDynamicRules(ctx context.Context, removeIDs []int, add []Rule) error
	ReplaceDynamicRules(ctx context.Context, add []Rule) error
	DynamicRules(ctx context.Context) ([]Rule, error)
}

// SanitizeHost reduces a user-entered site to a bare host:
// scheme and trailing slash stripped, everything after the first path
// separator dropped, lowercased.
func SanitizeHost(site string) string {
	s := strings.TrimSpace(site)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		s = s[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		s = s[len("http://"):]
	}
	s = strings.TrimSuffix(s, "/")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// BuildRules creates one rule per distinct sanitized host, numbered from
// RuleIDBase in site order. Empty hosts are skipped.
func BuildRules(sites []string, redirectPath string) []Rule {
	rules := make([]Rule, 0, len(sites))
	seen := make(map[string]bool, len(sites))
	for _, site := range sites {
		host := SanitizeHost(site)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		rules = append(rules, Rule{
			ID:            RuleIDBase + len(rules),
			Priority:      1,
			URLFilter:     fmt.Sprintf("||%s^", host),
			Host:          host,
			RedirectPath:  redirectPath,
			ResourceTypes: []string{ResourceMainFrame},
		})
	}
	return rules
}

// Match returns the first rule covering rawURL's host. A rule for
// "youtube.com" covers "youtube.com" and "m.youtube.com" but not
// "notyoutube.com". Bare hosts without a scheme are accepted.
func Match(rules []Rule, rawURL string) (Rule, bool) {
	host := hostOf(rawURL)
	if host == "" {
		return Rule{}, false
	}
	for _, r := range rules {
		if host == r.Host || strings.HasSuffix(host, "."+r.Host) {
			return r, true
		}
	}
	return Rule{}, false
}

func hostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
