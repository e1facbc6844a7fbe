package domain

import (
	"strings"

	"github.com/google/uuid"
)

// TokenKind distinguishes standard API tokens from development tokens.
type TokenKind string

const (
	TokenKindApp TokenKind = "app"
	TokenKindDev TokenKind = "dev"
)

// DevTokenPrefix replaces the first characters of a dev token's value so the
// kind is recognizable from the bearer string alone.
const DevTokenPrefix = "dev-"

// Default display names assigned at creation.
const (
	DefaultTokenName    = "Token"
	DefaultDevTokenName = "Development"
)

// Token is an opaque bearer credential embedded in a user document. Its value
// is unique across all tokens of all users at the moment of creation.
type Token struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Kind   TokenKind `json:"type"`
	Value  string    `json:"value"`
	Active bool      `json:"active"`
}

// IsDev reports whether this is a development token.
func (t Token) IsDev() bool {
	return t.Kind == TokenKindDev
}

// MatchesPrefix reports whether the token value carries the prefix its kind
// requires. App tokens must not carry the dev prefix.
func (t Token) MatchesPrefix() bool {
	hasPrefix := strings.HasPrefix(t.Value, DevTokenPrefix)
	if t.Kind == TokenKindDev {
		return hasPrefix
	}
	return !hasPrefix
}
