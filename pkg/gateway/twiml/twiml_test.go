package twiml

import (
	"strings"
	"testing"
)

func TestEncodeVerbOrder(t *testing.T) {
	resp := &Response{}
	resp.Add(
		Say{Text: "Hello!", Voice: "Polly.Joanna", Language: "en-US"},
		Gather{Input: "speech", Action: "/voice/process-speech", Method: "POST", SpeechTimeout: "3"},
		Hangup{},
	)

	doc, err := resp.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(doc, Header) {
		t.Fatalf("missing XML declaration: %q", doc)
	}

	sayIdx := strings.Index(doc, "<Say")
	gatherIdx := strings.Index(doc, "<Gather")
	hangupIdx := strings.Index(doc, "<Hangup")
	if sayIdx < 0 || gatherIdx < 0 || hangupIdx < 0 {
		t.Fatalf("missing verbs: %q", doc)
	}
	if !(sayIdx < gatherIdx && gatherIdx < hangupIdx) {
		t.Fatalf("verbs out of order: %q", doc)
	}
	if !strings.Contains(doc, `voice="Polly.Joanna"`) {
		t.Fatalf("voice attribute missing: %q", doc)
	}
	if !strings.Contains(doc, `speechTimeout="3"`) {
		t.Fatalf("speechTimeout attribute missing: %q", doc)
	}
}

func TestEncodeEscapesText(t *testing.T) {
	resp := &Response{}
	resp.Add(Say{Text: `Tom & Jerry <3`})
	doc, err := resp.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(doc, "Tom &amp; Jerry &lt;3") {
		t.Fatalf("text not escaped: %q", doc)
	}
}

func TestGatherNestedVerbs(t *testing.T) {
	resp := &Response{}
	resp.Add(Gather{
		Input:  "speech",
		Action: "/next",
		Verbs:  []any{Say{Text: "Go ahead."}},
	})
	doc, err := resp.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	gather := doc[strings.Index(doc, "<Gather"):]
	if !strings.Contains(gather[:strings.Index(gather, "</Gather>")], "<Say>") {
		t.Fatalf("nested Say not inside Gather: %q", doc)
	}
}

func TestSpeakVerb(t *testing.T) {
	if _, ok := SpeakVerb("hi", "v", "en-US", "").(Say); !ok {
		t.Fatalf("want Say without audio URL")
	}
	play, ok := SpeakVerb("hi", "v", "en-US", "https://host/tts/x.wav").(Play)
	if !ok || play.URL != "https://host/tts/x.wav" {
		t.Fatalf("want Play with audio URL, got %+v", play)
	}
}
