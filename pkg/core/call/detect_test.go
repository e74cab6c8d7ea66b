package call

import (
	"testing"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

func TestKeywordDetectorGoodbye(t *testing.T) {
	d := NewKeywordDetector(nil, 3)

	cases := []struct {
		text string
		want Decision
	}{
		{"okay goodbye", DecisionUserEnded},
		{"Thanks, that's all I needed", DecisionUserEnded},
		{"BYE", DecisionUserEnded},
		{"I want to order a pizza", DecisionContinue},
		{"", DecisionContinue},
	}
	for _, tc := range cases {
		got := d.Decide(DetectInput{LastUserText: tc.text})
		if got != tc.want {
			t.Errorf("Decide(%q)=%q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestKeywordDetectorNoInputLimit(t *testing.T) {
	d := NewKeywordDetector(nil, 3)

	if got := d.Decide(DetectInput{NoInputCount: 2}); got != DecisionContinue {
		t.Fatalf("2 strikes: %q, want continue", got)
	}
	if got := d.Decide(DetectInput{NoInputCount: 3}); got != DecisionTimeout {
		t.Fatalf("3 strikes: %q, want timeout", got)
	}
}

func TestKeywordDetectorGoodbyeBeatsTimeout(t *testing.T) {
	d := NewKeywordDetector(nil, 3)
	got := d.Decide(DetectInput{LastUserText: "goodbye", NoInputCount: 5})
	if got != DecisionUserEnded {
		t.Fatalf("decision=%q, want user_ended", got)
	}
}

func TestKeywordDetectorDataComplete(t *testing.T) {
	d := NewKeywordDetector(nil, 3)
	schema := map[string]agent.Field{
		"name":  {Required: true},
		"email": {Required: true, Kind: agent.KindEmail},
		"note":  {Required: false},
	}

	in := DetectInput{
		LastUserText: "my name is Jo",
		Schema:       schema,
		Collected:    map[string]any{"name": "Jo"},
	}
	if got := d.Decide(in); got != DecisionContinue {
		t.Fatalf("partial data: %q, want continue", got)
	}

	in.Collected["email"] = "jo@example.com"
	if got := d.Decide(in); got != DecisionDataComplete {
		t.Fatalf("all required collected: %q, want data_complete", got)
	}
}

func TestDataCompleteEmptySchema(t *testing.T) {
	if DataComplete(nil, map[string]any{}) {
		t.Fatalf("empty schema must never complete")
	}
}

func TestKeywordDetectorCustomVocabulary(t *testing.T) {
	d := NewKeywordDetector([]string{"hasta la vista"}, 3)
	if got := d.Decide(DetectInput{LastUserText: "hasta la vista baby"}); got != DecisionUserEnded {
		t.Fatalf("custom phrase: %q, want user_ended", got)
	}
	// Built-in phrases are replaced, not extended.
	if got := d.Decide(DetectInput{LastUserText: "goodbye"}); got != DecisionContinue {
		t.Fatalf("built-in phrase with custom vocabulary: %q, want continue", got)
	}
}

func TestDecisionEndReason(t *testing.T) {
	cases := map[Decision]EndReason{
		DecisionUserEnded:    EndedByUser,
		DecisionTimeout:      EndedBySystemTimeout,
		DecisionDataComplete: EndedByDataComplete,
		DecisionContinue:     "",
	}
	for d, want := range cases {
		if got := d.EndReason(); got != want {
			t.Errorf("%q.EndReason()=%q, want %q", d, got, want)
		}
	}
}
