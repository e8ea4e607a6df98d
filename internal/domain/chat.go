package domain

import (
	"encoding/json"
	"time"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// generation prompts and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseSchema constrains a chat completion to a named JSON schema.
// A zero value leaves the response unconstrained.
type ResponseSchema struct {
	Name   string
	Schema json.RawMessage
}

// ChatTurn is one answered question: the owner's message and the
// assistant's reply.
type ChatTurn struct {
	OwnerID  string
	Question string
	Answer   string
	At       time.Time
}
