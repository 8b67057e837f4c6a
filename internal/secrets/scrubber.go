package secrets

import (
	"regexp"
	"sort"
)

// Scrubber detects and redacts secrets from free text.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

// New builds the scrubber selected by cfg.Engine. A nil cfg means
// DefaultConfig.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}
	if cfg.Engine == EngineGitleaks {
		return newGitleaksScrubber(cfg)
	}
	return &regexScrubber{config: cfg}, nil
}

// MustNew is New that panics on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

type regexScrubber struct {
	config *Config
}

type span struct{ start, end int }

func (s *regexScrubber) Scrub(content string) *Result {
	result := newResult(content)
	var spans []span

	for _, rule := range s.config.compiledRules {
		if len(rule.keywords) > 0 && !anyMatch(rule.keywords, content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.config.allowed(content[m[0]:m[1]]) {
				continue
			}
			result.add(Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  m[0],
				EndIndex:    m[1],
			})
			spans = append(spans, span{m[0], m[1]})
		}
	}

	if len(spans) > 0 {
		result.Scrubbed = redactSpans(content, spans, s.config.RedactionString)
	}
	return result
}

func (s *regexScrubber) IsEnabled() bool { return true }

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// redactSpans replaces the union of spans with marker.
func redactSpans(content string, spans []span, marker string) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, marker...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	return string(out)
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result { return newResult(content) }

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*regexScrubber)(nil)
	_ Scrubber = (*NoopScrubber)(nil)
	_ Scrubber = (*gitleaksScrubber)(nil)
)
