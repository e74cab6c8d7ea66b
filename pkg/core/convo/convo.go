// Package convo generates assistant utterances for live calls. The backend
// is an opaque collaborator with a latency and a failure mode; when it
// fails, a fixed fallback utterance keeps the caller from hearing silence.
package convo

import (
	"context"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/call"
)

// FallbackUtterance is spoken when the backend fails or times out. A caller
// on the phone must always hear something within the turn's latency budget.
const FallbackUtterance = "I'm sorry, I didn't quite catch that. Could you say it again?"

// Request is one generation turn's full context.
type Request struct {
	Agent     *agent.Config
	PastCalls []call.Record
	History   []call.Turn
	Collected map[string]any
	UserText  string
}

// Generator produces an assistant utterance for a turn.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GenerateOrFallback runs the generator and substitutes the fallback
// utterance on any error, so the turn always proceeds.
func GenerateOrFallback(ctx context.Context, g Generator, req Request) (text string, failed bool) {
	if g == nil {
		return FallbackUtterance, true
	}
	out, err := g.Generate(ctx, req)
	if err != nil || out == "" {
		return FallbackUtterance, true
	}
	return out, false
}
