// Package push holds the vendor notification contract shared by the GeTui
// provider and the offline notifier.
package push

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotConfigured   = errors.New("not configured")
)

// Provider sends one notification to the devices bound to Message.Aliases.
type Provider interface {
	Type() string
	Push(ctx context.Context, msg Message) (Result, error)
}

// Message is a notification for an offline user. Aliases are user ids the
// client bound on login.
type Message struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
	Aliases []string          `json:"aliases"`
}

type Result struct {
	OK       bool      `json:"ok"`
	Provider string    `json:"provider"`
	TaskID   string    `json:"taskId,omitempty"`
	Body     string    `json:"body,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
