package call

import (
	"strings"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

// Decision is the outcome of a termination check.
type Decision string

const (
	// DecisionContinue keeps the turn loop running.
	DecisionContinue Decision = "continue"
	// DecisionUserEnded means the caller signaled end-of-call intent.
	DecisionUserEnded Decision = "user_ended"
	// DecisionTimeout means too many consecutive turns produced no usable input.
	DecisionTimeout Decision = "timeout"
	// DecisionDataComplete means every required data field has been collected.
	DecisionDataComplete Decision = "data_complete"
)

// EndReason maps a terminating decision to the reason recorded durably.
func (d Decision) EndReason() EndReason {
	switch d {
	case DecisionUserEnded:
		return EndedByUser
	case DecisionTimeout:
		return EndedBySystemTimeout
	case DecisionDataComplete:
		return EndedByDataComplete
	}
	return ""
}

// Detector decides whether a call should end. Implementations must be pure
// with respect to their inputs; termination policy affects every call and
// has to be testable in isolation from the session store.
type Detector interface {
	Decide(in DetectInput) Decision
}

// DetectInput is everything a Detector may consider.
type DetectInput struct {
	// LastUserText is the text of the latest user turn, empty if none.
	LastUserText string
	// NoInputCount is the count of consecutive turns with no usable input.
	NoInputCount int
	// Collected is the data gathered so far.
	Collected map[string]any
	// Schema is the agent's data-collection schema, possibly empty.
	Schema map[string]agent.Field
}

// DefaultGoodbyeVocabulary matches the phrases callers actually use to wrap
// up a call. Matching is case-insensitive substring.
var DefaultGoodbyeVocabulary = []string{
	"goodbye", "bye", "bye bye", "good bye",
	"thank you", "thanks", "that's all", "that is all",
	"nothing else", "i'm done", "im done", "done",
	"hang up", "end call",
}

// KeywordDetector is the substring-matching termination policy. The zero
// value is not usable; construct with NewKeywordDetector.
type KeywordDetector struct {
	vocabulary   []string
	noInputLimit int
}

// NewKeywordDetector builds a detector over the given goodbye vocabulary.
// An empty vocabulary falls back to DefaultGoodbyeVocabulary; a
// non-positive noInputLimit defaults to 3.
func NewKeywordDetector(vocabulary []string, noInputLimit int) *KeywordDetector {
	if len(vocabulary) == 0 {
		vocabulary = DefaultGoodbyeVocabulary
	}
	if noInputLimit <= 0 {
		noInputLimit = 3
	}
	return &KeywordDetector{vocabulary: vocabulary, noInputLimit: noInputLimit}
}

// Decide evaluates, in priority order: explicit goodbye intent, the
// consecutive no-input limit, then data-collection completeness. The first
// matching rule wins.
func (k *KeywordDetector) Decide(in DetectInput) Decision {
	if k.matchesGoodbye(in.LastUserText) {
		return DecisionUserEnded
	}
	if in.NoInputCount >= k.noInputLimit {
		return DecisionTimeout
	}
	if DataComplete(in.Schema, in.Collected) {
		return DecisionDataComplete
	}
	return DecisionContinue
}

func (k *KeywordDetector) matchesGoodbye(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, phrase := range k.vocabulary {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// DataComplete reports whether every required field in the schema has been
// collected. An empty schema never completes: agents with nothing to
// collect end calls on intent or timeout, not immediately.
func DataComplete(schema map[string]agent.Field, collected map[string]any) bool {
	if len(schema) == 0 {
		return false
	}
	for name, field := range schema {
		if !field.Required {
			continue
		}
		if _, ok := collected[name]; !ok {
			return false
		}
	}
	return true
}
