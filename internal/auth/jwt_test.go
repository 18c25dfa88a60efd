package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digkill/InfographicAI/internal/models"
)

func TestSignAndIdentify(t *testing.T) {
	a := NewAuthenticator("secret", "https://auth.example.com")
	identity := models.Identity{UserID: "user-1", Email: "a@example.com", FullName: "Ada", Country: "GB"}

	token, err := a.Sign(identity, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := a.Identify(token)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got != identity {
		t.Errorf("identity = %+v, want %+v", got, identity)
	}
}

func TestIdentifyRejects(t *testing.T) {
	a := NewAuthenticator("secret", "issuer-a")
	identity := models.Identity{UserID: "user-1", Email: "a@example.com"}

	expired, _ := a.Sign(identity, -time.Hour)
	otherKey, _ := NewAuthenticator("other", "issuer-a").Sign(identity, time.Hour)
	otherIssuer, _ := NewAuthenticator("secret", "issuer-b").Sign(identity, time.Hour)
	noSubject, _ := a.Sign(models.Identity{Email: "a@example.com"}, time.Hour)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
		"empty":        "",
	} {
		if _, err := a.Identify(token); !errors.Is(err, models.ErrUnauthenticated) {
			t.Errorf("%s: err = %v, want ErrUnauthenticated", name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"":            "",
	}
	for header, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
