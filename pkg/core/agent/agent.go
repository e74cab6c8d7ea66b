// Package agent defines agent configurations: the prompt, voice, language,
// greeting, and data-collection schema that govern one class of calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the declared type of a data-collection field.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindEmail  FieldKind = "email"
	KindPhone  FieldKind = "phone"
	KindNumber FieldKind = "number"
)

// Field configures a single data-collection field.
type Field struct {
	Required bool      `json:"required"`
	Prompt   string    `json:"prompt"`
	Example  string    `json:"example,omitempty"`
	Kind     FieldKind `json:"kind,omitempty"`
}

// FewShot is one example exchange used to steer the conversation backend.
type FewShot struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Config is an agent configuration. Fetched once per call and immutable for
// the session's lifetime.
type Config struct {
	ID         string           `json:"agent_id"`
	Name       string           `json:"name"`
	Prompt     string           `json:"prompt"`
	FewShot    []FewShot        `json:"few_shot,omitempty"`
	Voice      string           `json:"voice"`
	Language   string           `json:"language"`
	Greeting   string           `json:"greeting"`
	DataToFill map[string]Field `json:"data_to_fill,omitempty"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at,omitzero"`
	UpdatedAt  time.Time        `json:"updated_at,omitzero"`
}

// Default returns the fallback configuration used when an agent lookup
// fails mid-call. The call proceeds rather than dropping.
func Default() *Config {
	return &Config{
		ID:       "default",
		Name:     "default",
		Prompt:   "You are a helpful AI assistant answering a phone call.",
		Voice:    "Polly.Joanna",
		Language: "en-US",
		Greeting: "Hello! How can I help you today?",
		Status:   "active",
	}
}

// RequiredFields returns the names of required data-collection fields.
func (c *Config) RequiredFields() []string {
	if c == nil {
		return nil
	}
	var names []string
	for name, f := range c.DataToFill {
		if f.Required {
			names = append(names, name)
		}
	}
	return names
}

var (
	ErrNotFound = errors.New("agent not found")
	ErrInactive = errors.New("agent is not active")
)

// ValidationError reports a collected value that failed its field's
// declared type. The offending field is dropped and the turn continues.
type ValidationError struct {
	Field string
	Kind  FieldKind
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %q is not a valid %s", e.Field, e.Value, e.Kind)
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateValue checks a collected value against the field's declared kind.
// An unknown kind is treated as text.
func (f Field) ValidateValue(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return &ValidationError{Field: name, Kind: f.Kind, Value: value}
	}
	switch f.Kind {
	case KindEmail:
		if !emailPattern.MatchString(value) {
			return &ValidationError{Field: name, Kind: f.Kind, Value: value}
		}
	case KindPhone:
		digits := 0
		for _, r := range value {
			switch {
			case r >= '0' && r <= '9':
				digits++
			case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
			default:
				return &ValidationError{Field: name, Kind: f.Kind, Value: value}
			}
		}
		if digits < 7 {
			return &ValidationError{Field: name, Kind: f.Kind, Value: value}
		}
	case KindNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return &ValidationError{Field: name, Kind: f.Kind, Value: value}
		}
	}
	return nil
}

// Directory is read-mostly storage of agent configurations.
type Directory interface {
	// GetAgent returns the configuration for an agent. It returns
	// ErrNotFound for unknown agents and ErrInactive for agents whose
	// status is not "active".
	GetAgent(ctx context.Context, agentID string) (*Config, error)
}
