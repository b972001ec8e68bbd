package pds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	DID          string `json:"did"`
	AccessJwt    string `json:"accessJwt"`
	RefreshJwt   string `json:"refreshJwt"`
}

// Login authenticates did against leafURL using an app password, the same
// createSession flow every atproto PDS exposes, and returns a ready Signer.
func Login(ctx context.Context, leafURL, did, appPassword string) (*Signer, error) {
	session, err := createSession(ctx, leafURL, did, appPassword)
	if err != nil {
		return nil, err
	}
	return NewSigner(did, session), nil
}

func createSession(ctx context.Context, leafURL, did, appPassword string) (*Session, error) {
	body, err := json.Marshal(loginRequest{Identifier: did, Password: appPassword})
	if err != nil {
		return nil, fmt.Errorf("pds: encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, leafURL+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pds: building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pds: login request to %s: %w", leafURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pds: login rejected with status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pds: decoding login response: %w", err)
	}

	expiry, err := ParseExpiry(out.AccessJwt)
	if err != nil {
		expiry = time.Now().Add(time.Hour)
	}

	return &Session{
		DID:          out.DID,
		AccessToken:  out.AccessJwt,
		RefreshToken: out.RefreshJwt,
		ExpiresAt:    expiry,
	}, nil
}

// Refresh exchanges the held refresh token for a fresh access token.
func (s *Signer) Refresh(ctx context.Context, leafURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, leafURL+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return fmt.Errorf("pds: building refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.session.RefreshToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("pds: refresh request to %s: %w", leafURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pds: refresh rejected with status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("pds: decoding refresh response: %w", err)
	}

	expiry, err := ParseExpiry(out.AccessJwt)
	if err != nil {
		expiry = time.Now().Add(time.Hour)
	}

	s.session.AccessToken = out.AccessJwt
	s.session.RefreshToken = out.RefreshJwt
	s.session.ExpiresAt = expiry
	return nil
}
