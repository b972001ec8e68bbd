package pds

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/muni-town/roomy-bridge/src/types"
)

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope: "com.atproto.appPass",
	})
	signed, err := token.SignedString([]byte("unused-since-we-never-verify"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestParseExpiryReadsExpClaimWithoutVerifyingSignature(t *testing.T) {
	want := time.Now().Add(time.Hour).Truncate(time.Second)
	token := makeToken(t, want)

	got, err := ParseExpiry(token)
	if err != nil {
		t.Fatalf("ParseExpiry: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, got)
	}
}

func TestParseExpiryRejectsTokenWithoutExpClaim(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{Scope: "x"})
	signed, err := token.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := ParseExpiry(signed); err == nil {
		t.Fatal("expected an error for a token with no exp claim")
	}
}

func TestExpiredReportsTrueWithinOneMinuteMargin(t *testing.T) {
	s := NewSigner("did:plc:bridge", &Session{ExpiresAt: time.Now().Add(30 * time.Second)})
	if !s.Expired() {
		t.Fatal("expected a session expiring in 30s to count as expired given the 1-minute margin")
	}
}

func TestExpiredReportsFalseWellBeforeExpiry(t *testing.T) {
	s := NewSigner("did:plc:bridge", &Session{ExpiresAt: time.Now().Add(time.Hour)})
	if s.Expired() {
		t.Fatal("expected a session expiring in an hour to not count as expired")
	}
}

func TestExpiredReportsTrueWithNilSession(t *testing.T) {
	s := NewSigner("did:plc:bridge", nil)
	if !s.Expired() {
		t.Fatal("expected a nil session to be treated as expired")
	}
}

func TestSignEventFailsWhenSessionExpired(t *testing.T) {
	s := NewSigner("did:plc:bridge", &Session{ExpiresAt: time.Now().Add(-time.Hour)})
	if _, err := s.SignEvent(types.RoomyEvent{Kind: types.RoomyEventRoomCreate}); err == nil {
		t.Fatal("expected SignEvent to fail against an expired session")
	}
}

func TestSignEventProducesAttributedEnvelope(t *testing.T) {
	s := NewSigner("did:plc:bridge", &Session{ExpiresAt: time.Now().Add(time.Hour), AccessToken: "tok"})

	raw, err := s.SignEvent(types.RoomyEvent{
		Kind:   types.RoomyEventRoomCreate,
		Origin: "town.muni.roomy.discordChannelOrigin:100",
		Room:   &types.RoomyRoom{Name: "general"},
	})
	if err != nil {
		t.Fatalf("SignEvent: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decoding signed event: %v", err)
	}
	if decoded["authorDid"] != "did:plc:bridge" {
		t.Fatalf("expected authorDid to be stamped, got %+v", decoded)
	}
	if decoded["kind"] != string(types.RoomyEventRoomCreate) {
		t.Fatalf("expected kind to be carried through, got %+v", decoded)
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok || data["Name"] != "general" {
		t.Fatalf("expected room data to be embedded, got %+v", decoded)
	}
}

func TestAuthHeaderCarriesBearerPrefix(t *testing.T) {
	s := NewSigner("did:plc:bridge", &Session{AccessToken: "abc123"})
	if got := s.AuthHeader(); got != "Bearer abc123" {
		t.Fatalf("expected 'Bearer abc123', got %q", got)
	}
}
