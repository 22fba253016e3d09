package auth

import (
	"testing"
	"time"

	"github.com/mediauth/go-rx/internal/domain/errs"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := SignToken(secret, 42, time.Hour)
	if err != nil {
		t.Fatalf("SignToken failed: %v", err)
	}

	id, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if id != 42 {
		t.Errorf("subject = %d, want 42", id)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := SignToken([]byte("secret-a"), 42, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ParseToken([]byte("secret-b"), token)
	if !errs.Is(err, errs.KindAuthorization) {
		t.Errorf("err = %v, want authorization error", err)
	}
}

func TestTokenExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignToken(secret, 42, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ParseToken(secret, token)
	if !errs.Is(err, errs.KindAuthorization) {
		t.Errorf("err = %v, want authorization error", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	_, err := ParseToken([]byte("secret"), "not.a.token")
	if !errs.Is(err, errs.KindAuthorization) {
		t.Errorf("err = %v, want authorization error", err)
	}
}
