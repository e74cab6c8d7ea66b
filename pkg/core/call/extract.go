package call

import (
	"regexp"
	"strings"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

// Extractor pulls data-collection values out of a user utterance. The
// pattern-matching implementation can be swapped for a model-based one
// without touching the session state machine.
type Extractor interface {
	Extract(text string, schema map[string]agent.Field, collected map[string]any) map[string]string
}

// PatternExtractor scans utterances for values matching a missing field's
// declared kind. Text fields are only captured when the utterance names
// the field ("my name is ...").
type PatternExtractor struct{}

var (
	extractEmail  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	extractPhone  = regexp.MustCompile(`\+?[0-9][0-9 ()\-]{6,}[0-9]`)
	extractNumber = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
)

// Extract returns candidate values for fields not yet collected. Candidates
// still pass field validation before entering the collected-data map.
func (PatternExtractor) Extract(text string, schema map[string]agent.Field, collected map[string]any) map[string]string {
	if text == "" || len(schema) == 0 {
		return nil
	}
	found := make(map[string]string)
	for name, field := range schema {
		if _, ok := collected[name]; ok {
			continue
		}
		switch field.Kind {
		case agent.KindEmail:
			if m := extractEmail.FindString(text); m != "" {
				found[name] = m
			}
		case agent.KindPhone:
			if m := extractPhone.FindString(text); m != "" {
				found[name] = m
			}
		case agent.KindNumber:
			if m := extractNumber.FindString(text); m != "" {
				found[name] = m
			}
		default:
			if v := afterFieldMention(text, name); v != "" {
				found[name] = v
			}
		}
	}
	if len(found) == 0 {
		return nil
	}
	return found
}

// afterFieldMention returns the words following "<field> is" style phrasing,
// e.g. "my name is Manas Joshi" for field "name".
func afterFieldMention(text, field string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(field))
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(text[idx+len(field):])
	for _, lead := range []string{"is", ":", "was"} {
		if strings.HasPrefix(strings.ToLower(rest), lead) {
			rest = strings.TrimSpace(rest[len(lead):])
			break
		}
	}
	if rest == "" {
		return ""
	}
	// Take at most four words; utterances run on.
	words := strings.Fields(rest)
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,!?")
}
