package secrets

import (
	"fmt"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksScrubber runs the gitleaks default rule set. Detectors keep
// every finding they report, so each Scrub uses a fresh one.
type gitleaksScrubber struct {
	config *Config
}

func newGitleaksScrubber(cfg *Config) (*gitleaksScrubber, error) {
	if _, err := detect.NewDetectorDefaultConfig(); err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &gitleaksScrubber{config: cfg}, nil
}

func (s *gitleaksScrubber) Scrub(content string) *Result {
	result := newResult(content)
	if content == "" {
		return result
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		// Fall back to the built-in rules rather than leak.
		return (&regexScrubber{config: s.config}).Scrub(content)
	}

	var spans []span
	for _, f := range detector.DetectString(content) {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" || s.config.allowed(secret) {
			continue
		}
		for from := 0; ; {
			i := strings.Index(content[from:], secret)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(secret)
			result.add(Finding{
				RuleID:      f.RuleID,
				Description: f.Description,
				Severity:    "high",
				StartIndex:  start,
				EndIndex:    end,
			})
			spans = append(spans, span{start, end})
			from = end
		}
	}

	if len(spans) > 0 {
		result.Scrubbed = redactSpans(content, spans, s.config.RedactionString)
	}
	return result
}

func (s *gitleaksScrubber) IsEnabled() bool { return true }
