// Package rules holds the matcher tables that drive CAPTCHA classification:
// provider selector patterns, challenge-text regexes, and the network URL
// allowlist. Built-in defaults cover the known providers; a YAML file can
// replace them at startup or at runtime (see Watcher).
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/captrace/captrace/pkg/models"
)

// SelectorPattern matches a DOM node by substring against one of its
// identifying fields. Substring matching (not equality) tolerates
// minified and hash-suffixed class names.
type SelectorPattern struct {
	Provider string `yaml:"provider"`
	Field    string `yaml:"field"` // class | id | src | attr
	Attr     string `yaml:"attr,omitempty"`
	Value    string `yaml:"value"`
}

// Matches tests the pattern against a snapshot node.
func (p SelectorPattern) Matches(n models.DOMNode) bool {
	needle := strings.ToLower(p.Value)
	switch p.Field {
	case "class":
		for _, c := range n.Classes {
			if strings.Contains(strings.ToLower(c), needle) {
				return true
			}
		}
	case "id":
		return strings.Contains(strings.ToLower(n.ID), needle)
	case "src":
		return strings.Contains(strings.ToLower(n.Attrs["src"]), needle)
	case "attr":
		return strings.Contains(strings.ToLower(n.Attrs[p.Attr]), needle)
	}
	return false
}

// TextPattern matches short challenge prompts for providers that randomize
// their class names.
type TextPattern struct {
	Provider string `yaml:"provider"`
	Pattern  string `yaml:"pattern"`

	re *regexp.Regexp
}

// Set is one compiled rule table. Sets are immutable after Compile; the
// Watcher swaps whole Sets rather than mutating in place.
type Set struct {
	Selectors []SelectorPattern `yaml:"selectors"`
	Texts     []TextPattern     `yaml:"texts"`
	// NetworkAllowlist is a list of URL glob patterns ('*' wildcards only)
	// for the privileged network interception channel.
	NetworkAllowlist []string `yaml:"networkAllowlist"`
}

// Default returns the built-in rule table.
func Default() *Set {
	s := &Set{
		Selectors: []SelectorPattern{
			{Provider: "recaptcha", Field: "class", Value: "g-recaptcha"},
			{Provider: "recaptcha", Field: "id", Value: "recaptcha"},
			{Provider: "recaptcha", Field: "src", Value: "recaptcha"},
			{Provider: "hcaptcha", Field: "class", Value: "h-captcha"},
			{Provider: "hcaptcha", Field: "src", Value: "hcaptcha.com"},
			{Provider: "turnstile", Field: "class", Value: "cf-turnstile"},
			{Provider: "turnstile", Field: "src", Value: "challenges.cloudflare.com"},
			{Provider: "geetest", Field: "class", Value: "geetest"},
			{Provider: "geetest", Field: "class", Value: "gt_"},
			{Provider: "funcaptcha", Field: "id", Value: "funcaptcha"},
			{Provider: "funcaptcha", Field: "src", Value: "arkoselabs"},
			{Provider: "datadome", Field: "class", Value: "datadome"},
			{Provider: "datadome", Field: "src", Value: "captcha-delivery.com"},
			{Provider: "perimeterx", Field: "id", Value: "px-captcha"},
			{Provider: "keycaptcha", Field: "id", Value: "keycaptcha"},
			{Provider: "generic", Field: "class", Value: "captcha"},
			{Provider: "generic", Field: "class", Value: "slider-verify"},
			{Provider: "generic", Field: "class", Value: "verify-wrap"},
			{Provider: "generic", Field: "attr", Attr: "title", Value: "captcha"},
		},
		Texts: []TextPattern{
			{Provider: "generic", Pattern: `(?i)are you a robot`},
			{Provider: "generic", Pattern: `(?i)i'?m not a robot`},
			{Provider: "generic", Pattern: `(?i)slide to verify`},
			{Provider: "generic", Pattern: `(?i)drag the slider`},
			{Provider: "generic", Pattern: `(?i)human verification`},
			{Provider: "generic", Pattern: `(?i)verify you are human`},
			{Provider: "generic", Pattern: `(?i)security check`},
			{Provider: "generic", Pattern: `(?i)select all (images|squares) with`},
			{Provider: "generic", Pattern: `(?i)rotate the image`},
		},
		NetworkAllowlist: []string{
			"*://*.google.com/recaptcha/*",
			"*://*.gstatic.com/recaptcha/*",
			"*://*.recaptcha.net/*",
			"*://*.hcaptcha.com/*",
			"*://*.arkoselabs.com/*",
			"*://*.funcaptcha.com/*",
			"*://*.geetest.com/*",
			"*://*.geevisit.com/*",
			"*://challenges.cloudflare.com/*",
			"*://*.captcha-delivery.com/*",
			"*://*.px-cdn.net/*",
			"*://*.keycaptcha.com/*",
		},
	}
	if err := s.Compile(); err != nil {
		panic(err) // built-ins must compile
	}
	return s
}

// LoadFile reads and compiles a YAML rule table.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Compile validates the table and compiles its regexes.
func (s *Set) Compile() error {
	for i := range s.Selectors {
		switch s.Selectors[i].Field {
		case "class", "id", "src":
		case "attr":
			if s.Selectors[i].Attr == "" {
				return fmt.Errorf("selector pattern %d: attr field requires attr name", i)
			}
		default:
			return fmt.Errorf("selector pattern %d: unknown field %q", i, s.Selectors[i].Field)
		}
		if s.Selectors[i].Value == "" {
			return fmt.Errorf("selector pattern %d: empty value", i)
		}
	}
	for i := range s.Texts {
		re, err := regexp.Compile(s.Texts[i].Pattern)
		if err != nil {
			return fmt.Errorf("text pattern %d: %w", i, err)
		}
		s.Texts[i].re = re
	}
	return nil
}

// MatchSelector returns the provider of the first selector pattern matching
// the node, or "" when none match.
func (s *Set) MatchSelector(n models.DOMNode) string {
	for _, p := range s.Selectors {
		if p.Matches(n) {
			return p.Provider
		}
	}
	return ""
}

// MatchText returns the provider of the first text pattern matching the
// given text, or "" when none match.
func (s *Set) MatchText(text string) string {
	for _, p := range s.Texts {
		if p.re.MatchString(text) {
			return p.Provider
		}
	}
	return ""
}

// MatchNetworkURL reports whether the URL is on the interception allowlist.
func (s *Set) MatchNetworkURL(url string) bool {
	for _, pat := range s.NetworkAllowlist {
		if globMatch(pat, url) {
			return true
		}
	}
	return false
}

// globMatch matches a pattern where '*' spans any run of characters.
// This mirrors the webRequest URL-pattern semantics the allowlist came from.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
