package secrets

import (
	"fmt"
	"regexp"
)

// Detection engines.
const (
	EngineRegex    = "regex"
	EngineGitleaks = "gitleaks"
)

// Config configures the scrubber.
type Config struct {
	Enabled bool

	// Engine is regex (DefaultRules) or gitleaks (its full default
	// rule set, slower to construct).
	Engine string

	Rules           []Rule
	RedactionString string

	// AllowList matches are never redacted.
	AllowList []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	Keywords    []string // at least one must appear for the rule to run
	Severity    string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns an enabled regex scrubber with DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Engine:          EngineRegex,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// Validate compiles rules and the allow list.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}
	switch c.Engine {
	case "":
		c.Engine = EngineRegex
	case EngineRegex, EngineGitleaks:
	default:
		return fmt.Errorf("unknown secrets engine %q (want regex or gitleaks)", c.Engine)
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		compiled := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			compiled.keywords = append(compiled.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}

func (c *Config) allowed(match string) bool {
	for _, re := range c.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
