// Package pds authenticates the bridge's own atproto identity against its
// Personal Data Server and stamps the events it writes into a Roomy space
// with that identity's DID.
package pds

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/muni-town/roomy-bridge/src/types"
)

// Session holds the bearer token issued by the PDS for the bridge's
// account. Signer.Refresh replaces its tokens; nothing refreshes it
// automatically.
type Session struct {
	DID          string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Signer attaches the bridge identity's DID to every outbound event so a
// Roomy space can attribute bridge writes. The session token is not part of
// the event.
type Signer struct {
	did     string
	session *Session
}

// NewSigner creates a Signer bound to an already-authenticated session.
func NewSigner(did string, session *Session) *Signer {
	return &Signer{did: did, session: session}
}

// claims mirrors the minimal JWT payload a PDS session token carries.
type claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Expired reports whether the held session token has passed its expiry,
// leaving a minute of margin so a write started just before expiry doesn't
// fail mid-flight.
func (s *Signer) Expired() bool {
	return s.session == nil || time.Now().After(s.session.ExpiresAt.Add(-time.Minute))
}

// ParseExpiry decodes the "exp" claim out of a PDS-issued access token
// without verifying its signature, since the PDS itself is the verifier;
// the bridge only needs to know when to refresh.
func ParseExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var c claims
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return time.Time{}, fmt.Errorf("pds: parsing session token: %w", err)
	}
	if c.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("pds: session token has no expiry claim")
	}
	return c.ExpiresAt.Time, nil
}

// SignEvent stamps event with the bridge's DID as author and returns its
// wire-format JSON, ready to append to the space stream. The payload
// carries only the attribution; the PDS access token is not included, and
// an expired session makes it fail rather than refresh.
func (s *Signer) SignEvent(event types.RoomyEvent) (json.RawMessage, error) {
	if s.Expired() {
		return nil, fmt.Errorf("pds: session expired, call Refresh before signing")
	}

	envelope := signedEvent{
		Kind:      event.Kind,
		AuthorDID: s.did,
		Origin:    event.Origin,
	}
	switch {
	case event.Room != nil:
		envelope.Data = event.Room
	case event.Message != nil:
		envelope.Data = event.Message
	case event.Reaction != nil:
		envelope.Data = event.Reaction
	case event.Sidebar != nil:
		envelope.Data = event.Sidebar
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("pds: marshaling signed event: %w", err)
	}
	return b, nil
}

type signedEvent struct {
	Kind      types.RoomyEventKind `json:"kind"`
	AuthorDID string               `json:"authorDid"`
	Origin    string               `json:"origin,omitempty"`
	Data      any                  `json:"data"`
}

// AuthHeader returns the bearer auth header value for HTTP calls made under
// this session.
func (s *Signer) AuthHeader() string {
	return "Bearer " + s.session.AccessToken
}
