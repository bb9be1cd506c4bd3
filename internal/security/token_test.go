package security

import (
	"errors"
	"testing"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
)

func newCodecForTest() *TokenCodec {
	return NewTokenCodec("surveyforge", "abcdefghijklmnopqrstuvwxyz123456")
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec := newCodecForTest()

	signed, expiresAt, err := codec.Issue(42, "a@example.com", domain.RoleBrand, domain.KindAccess, "1h")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if remaining := time.Until(expiresAt); remaining < 59*time.Minute || remaining > time.Hour {
		t.Fatalf("unexpected expiry distance: %v", remaining)
	}

	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	ownerID, err := claims.OwnerID()
	if err != nil {
		t.Fatalf("owner id: %v", err)
	}
	if ownerID != 42 || claims.Email != "a@example.com" || claims.Role != domain.RoleBrand || claims.Kind != domain.KindAccess {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	codec := newCodecForTest()

	signed, _, err := codec.Issue(1, "a@example.com", domain.RoleUser, domain.KindAccess, "1s")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := codec.Verify(signed); err != nil {
		t.Fatalf("expected fresh token to verify, got %v", err)
	}

	time.Sleep(2100 * time.Millisecond)
	if _, err := codec.Verify(signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired past ttl, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	codec := newCodecForTest()

	signed, _, err := codec.Issue(7, "b@example.com", domain.RoleUser, domain.KindAccess, "1h")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tampered := signed[:len(signed)-2] + "xx"
	if _, err := codec.Verify(tampered); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for tampered token, got %v", err)
	}
	if _, err := codec.Verify("not-a-token"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for garbage, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	other := NewTokenCodec("surveyforge", "00000000000000000000000000000000")
	signed, _, err := other.Issue(7, "b@example.com", domain.RoleUser, domain.KindAccess, "1h")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newCodecForTest().Verify(signed); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed under wrong secret, got %v", err)
	}
}

func TestPeekDecodesWithoutValidation(t *testing.T) {
	codec := newCodecForTest()

	signed, _, err := codec.Issue(9, "c@example.com", domain.RoleAdmin, domain.KindPasswordReset, "1s")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tampered := signed[:len(signed)-2] + "xx"
	claims := codec.Peek(tampered)
	if claims == nil {
		t.Fatal("expected peek to decode despite bad signature")
	}
	if claims.Kind != domain.KindPasswordReset {
		t.Fatalf("unexpected kind: %s", claims.Kind)
	}
	if codec.Peek("garbage") != nil {
		t.Fatal("expected nil for undecodable input")
	}
}

func TestParseTTL(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1s", want: time.Second},
		{in: "15m", want: 15 * time.Minute},
		{in: "1h", want: time.Hour},
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: "", wantErr: true},
		{in: "h", wantErr: true},
		{in: "10", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "0h", wantErr: true},
		{in: "1w", wantErr: true},
		{in: "1.5h", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTTL(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidDuration) {
					t.Fatalf("ParseTTL(%q) err=%v want ErrInvalidDuration", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTTL(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseTTL(%q)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc.def.ghi":  "abc.def.ghi",
		"Bearer":              "",
		"bearer abc":          "",
		"Basic abc":           "",
		"":                    "",
		"Bearer abc def":      "",
		"Bearer  ":            "",
	}
	for in, want := range cases {
		if got := ExtractBearer(in); got != want {
			t.Fatalf("ExtractBearer(%q)=%q want %q", in, got, want)
		}
	}
}

func TestHashCredentialIsStableAndHex(t *testing.T) {
	a := HashCredential("token-one")
	b := HashCredential("token-one")
	c := HashCredential("token-two")
	if a != b {
		t.Fatal("expected deterministic digest")
	}
	if a == c {
		t.Fatal("expected distinct digests for distinct tokens")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestTruncateForDisplay(t *testing.T) {
	if got := TruncateForDisplay("abcdefghij", 4); got != "ghij" {
		t.Fatalf("got %q", got)
	}
	if got := TruncateForDisplay("ab", 4); got != "ab" {
		t.Fatalf("got %q", got)
	}
}
