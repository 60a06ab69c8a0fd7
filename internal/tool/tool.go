// Package tool defines the contract external tool integrations satisfy and
// the registry the executor resolves them from.
package tool

import (
	"context"

	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
)

// Tool is one callable integration (an email, calendar, chat or workspace
// action). The executor calls Call exactly once per concrete step per
// attempt.
type Tool interface {
	// Name returns the unique tool name steps reference.
	Name() string

	// Risk returns the tool's declared risk level. A step may override it.
	Risk() plan.Risk

	// Apps lists the provider applications this tool touches.
	Apps() []string

	// Call performs the side effect and returns a provider result.
	Call(ctx context.Context, args map[string]any, rc run.Context) (any, error)
}

// Undoer is optionally implemented by tools whose effects can be reversed.
// Undo derives provider-specific reversal arguments from a committed call;
// it is invoked at most once per successful commit.
type Undoer interface {
	Undo(result any, args map[string]any) (map[string]any, error)
}

// CredentialRef identifies the provider app and stored credential a tool
// call would use for a given user.
type CredentialRef struct {
	AppID        string
	CredentialID string
}

// CredentialResolver maps (tool, user) to a connected credential. Steps
// whose tool resolves to no credential are annotated as needing a
// connection rather than failing outright.
type CredentialResolver interface {
	Resolve(toolName, userID string) (CredentialRef, bool)
}

// StaticCredentials is a CredentialResolver backed by a fixed table, keyed
// by "tool\x00user".
type StaticCredentials map[string]CredentialRef

// Key builds the lookup key for a static credential table.
func Key(toolName, userID string) string {
	return toolName + "\x00" + userID
}

// Resolve implements CredentialResolver.
func (s StaticCredentials) Resolve(toolName, userID string) (CredentialRef, bool) {
	ref, ok := s[Key(toolName, userID)]
	return ref, ok
}
