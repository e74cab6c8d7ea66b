// Package twiml builds the XML documents the telephony provider executes
// against a live call.
package twiml

import (
	"encoding/xml"
	"strings"
)

// Header is the XML declaration prepended to every document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>`

// Response is a TwiML document. Verbs execute in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks text with the provider's built-in voice.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Play plays an audio file by URL.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Gather collects speech input and posts it to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr,omitempty"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Language      string   `xml:"language,attr,omitempty"`
	Hints         string   `xml:"hints,attr,omitempty"`
	SpeechModel   string   `xml:"speechModel,attr,omitempty"`
	Enhanced      string   `xml:"enhanced,attr,omitempty"`
	Verbs         []any
}

// Redirect transfers control to another webhook.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Pause waits for Length seconds.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Add appends verbs to the response.
func (r *Response) Add(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Encode renders the document with the XML declaration.
func (r *Response) Encode() (string, error) {
	var b strings.Builder
	b.WriteString(Header)
	out, err := xml.Marshal(r)
	if err != nil {
		return "", err
	}
	b.Write(out)
	return b.String(), nil
}

// SpeakVerb returns a Say verb, or a Play verb when audioURL is set.
// Callers pass the synthesized file URL when local TTS is active and fall
// back to the provider voice otherwise.
func SpeakVerb(text, voice, language, audioURL string) any {
	if audioURL != "" {
		return Play{URL: audioURL}
	}
	return Say{Text: text, Voice: voice, Language: language}
}
