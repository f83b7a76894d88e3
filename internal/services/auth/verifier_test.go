package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testIssuer = "https://issuer.example.com"

// newSigningKey generates a signing key and the JWKS set holding its public half
func newSigningKey(t *testing.T) (jwk.Key, jwk.Set) {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-key"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}

	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}

	return key, set
}

func jwksServer(t *testing.T, set jwk.Set) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)
	return server
}

func testKeys(t *testing.T) (jwk.Key, *httptest.Server) {
	t.Helper()
	key, set := newSigningKey(t)
	return key, jwksServer(t, set)
}

func signToken(t *testing.T, key jwk.Key, issuer string, expiresIn time.Duration) string {
	t.Helper()

	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer(issuer).
		Subject("provider-user-123").
		Audience([]string{"monitorhub"}).
		IssuedAt(now).
		Expiration(now.Add(expiresIn)).
		Claim("email", "user@example.com").
		Claim("name", "Test User").
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	key, server := testKeys(t)
	v := NewVerifier(server.URL, testIssuer)

	claims, err := v.Verify(context.Background(), signToken(t, key, testIssuer, time.Hour))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != "provider-user-123" {
		t.Errorf("Expected subject provider-user-123, got %s", claims.Sub)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("Expected email user@example.com, got %s", claims.Email)
	}
	if claims.Iss != testIssuer {
		t.Errorf("Expected issuer %s, got %s", testIssuer, claims.Iss)
	}
	if claims.Aud != "monitorhub" {
		t.Errorf("Expected audience monitorhub, got %s", claims.Aud)
	}
}

func TestVerifier_Verify_RejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	key, server := testKeys(t)
	v := NewVerifier(server.URL, testIssuer)

	if _, err := v.Verify(context.Background(), signToken(t, key, "https://evil.example.com", time.Hour)); err == nil {
		t.Error("Expected issuer mismatch error")
	}
}

func TestVerifier_Verify_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	key, server := testKeys(t)
	v := NewVerifier(server.URL, testIssuer)

	if _, err := v.Verify(context.Background(), signToken(t, key, testIssuer, -time.Hour)); err == nil {
		t.Error("Expected expired token to be rejected")
	}
}

func TestVerifier_Verify_RejectsUnknownKey(t *testing.T) {
	t.Parallel()

	_, server := testKeys(t)
	v := NewVerifier(server.URL, testIssuer)

	otherKey, _ := testKeys(t)
	if _, err := v.Verify(context.Background(), signToken(t, otherKey, testIssuer, time.Hour)); err == nil {
		t.Error("Expected token signed by unknown key to be rejected")
	}
}

func TestVerifier_Verify_CachesKeys(t *testing.T) {
	t.Parallel()

	key, set := newSigningKey(t)
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)

	v := NewVerifier(server.URL, testIssuer)
	token := signToken(t, key, testIssuer, time.Hour)

	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if fetches != 1 {
		t.Errorf("Expected 1 JWKS fetch, got %d", fetches)
	}
}
