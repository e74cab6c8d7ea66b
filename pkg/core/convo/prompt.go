package convo

import (
	"fmt"
	"sort"
	"strings"
)

// historyWindow caps how many prior turns are sent to the backend.
const historyWindow = 10

// buildSystemPrompt assembles the system instruction: the agent prompt,
// a summary of prior calls with this recipient, and a nudge listing the
// data fields still missing.
func buildSystemPrompt(req Request) string {
	var b strings.Builder
	prompt := "You are a helpful AI assistant."
	if req.Agent != nil && req.Agent.Prompt != "" {
		prompt = req.Agent.Prompt
	}
	b.WriteString(prompt)

	if n := len(req.PastCalls); n > 0 {
		fmt.Fprintf(&b, "\n\nContext: this customer has called %d time(s) before.", n)
		if prior := req.PastCalls[0].DataCollected; len(prior) > 0 {
			fmt.Fprintf(&b, " Known details from earlier calls: %s.", formatCollected(prior))
		}
	}

	if req.Agent != nil && len(req.Agent.DataToFill) > 0 {
		var missing []string
		for name := range req.Agent.DataToFill {
			if _, ok := req.Collected[name]; !ok {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		if len(missing) > 0 {
			fmt.Fprintf(&b, "\n\nWhile helping the caller, collect: %s.", strings.Join(missing, ", "))
			if len(req.Collected) > 0 {
				fmt.Fprintf(&b, " Already collected: %s.", formatCollected(req.Collected))
			}
		}
	}

	b.WriteString("\n\nThis is a voice call. Keep responses short and natural to speak aloud.")
	return b.String()
}

func formatCollected(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}

// windowedHistory returns the most recent turns within the history window.
func windowedHistory(req Request) []promptTurn {
	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	out := make([]promptTurn, 0, len(history)+1)
	for _, t := range history {
		out = append(out, promptTurn{role: string(t.Role), text: t.Content})
	}
	out = append(out, promptTurn{role: "user", text: req.UserText})
	return out
}

type promptTurn struct {
	role string
	text string
}
