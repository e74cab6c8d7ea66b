// Package tts provides optional local text-to-speech for call playback.
// When no provider is configured, calls fall back to the telephony
// provider's built-in voice.
package tts

import "context"

// Provider is the interface for speech synthesis backends.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to a playable audio reference: the name of
	// a generated file under the provider's output directory, served to
	// the telephony provider over HTTP.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice    string // voice identifier, provider-specific
	Language string // language code (e.g. "en-US")
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	FileName string // file name under the provider's output directory
	Format   string // audio format ("wav", "mp3")
}
