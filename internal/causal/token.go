// Package causal derives the correlation tokens that tie a climate command to
// the state change it produces.
//
// A controller that issues a command tags it with Encode(controllerID). The
// platform threads the token back into the resulting state-change event as the
// context parent id, which lets the bridge attribute the echo to the
// controller that caused it.
//
// Tokens are compared for equality only. They carry no security meaning.
package causal

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// TokenLength is the fixed length of a non-empty token.
const TokenLength = 26

// Token is an opaque correlation id. The zero value means "no causal origin".
type Token string

// Encode maps an entity id to its token: SHA-256, standard base64 with the
// padding stripped, truncated to TokenLength characters.
//
// An empty id yields the empty token.
func Encode(id string) Token {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	encoded := strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "=")
	return Token(encoded[:TokenLength])
}

// IsZero reports whether t carries no causal origin.
func (t Token) IsZero() bool {
	return t == ""
}

// String implements fmt.Stringer.
func (t Token) String() string {
	return string(t)
}
