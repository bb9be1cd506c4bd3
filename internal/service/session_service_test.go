package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
)

func TestIssueAndVerifyAccessCredential(t *testing.T) {
	svc, creds, users := newSessionFixture()
	owner := users.addUser(t, "owner@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{IPAddress: "203.0.113.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Credential == "" || issued.RecordID == "" {
		t.Fatal("expected a signed credential and a record id")
	}
	if !issued.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", issued.ExpiresAt)
	}

	verified, err := svc.VerifyAccessCredential(ctx, issued.Credential)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Owner.ID != owner.ID {
		t.Fatalf("expected owner %d, got %d", owner.ID, verified.Owner.ID)
	}
	if verified.Record.ID != issued.RecordID {
		t.Fatalf("expected record %s, got %s", issued.RecordID, verified.Record.ID)
	}
	if verified.Record.IPAddress != "203.0.113.1" {
		t.Fatalf("expected provenance on the record, got %q", verified.Record.IPAddress)
	}
	if creds.touchHits != 1 {
		t.Fatalf("expected one usage touch, got %d", creds.touchHits)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, _, _ := newSessionFixture()

	_, err := svc.VerifyAccessCredential(context.Background(), "not.a.credential")
	if !errors.Is(err, ErrCredentialMalformed) {
		t.Fatalf("expected ErrCredentialMalformed, got %v", err)
	}
}

func TestRevocationWinsOverStructuralValidity(t *testing.T) {
	svc, _, users := newSessionFixture()
	owner := users.addUser(t, "revoked@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.RevokeOne(ctx, issued.Credential, domain.RevokeReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// The signature is still valid; the store record is not.
	_, err = svc.VerifyAccessCredential(ctx, issued.Credential)
	if !errors.Is(err, ErrCredentialRevoked) {
		t.Fatalf("expected ErrCredentialRevoked, got %v", err)
	}
}

func TestVerifyRejectsInactiveOwner(t *testing.T) {
	svc, _, users := newSessionFixture()
	owner := users.addUser(t, "disabled@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	owner.IsActive = false

	_, err = svc.VerifyAccessCredential(ctx, issued.Credential)
	if !errors.Is(err, ErrOwnerInactive) {
		t.Fatalf("expected ErrOwnerInactive, got %v", err)
	}
}

func TestVerifyReportsStoreUnavailability(t *testing.T) {
	svc, creds, users := newSessionFixture()
	owner := users.addUser(t, "outage@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	creds.findErr = errors.New("connection refused")

	_, err = svc.VerifyAccessCredential(ctx, issued.Credential)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrCredentialRevoked) {
		t.Fatal("an outage must never read as a denial")
	}
}

func TestUsageTrackingFailureIsNotFatal(t *testing.T) {
	svc, creds, users := newSessionFixture()
	owner := users.addUser(t, "besteffort@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	creds.touchErr = errors.New("write timeout")

	if _, err := svc.VerifyAccessCredential(ctx, issued.Credential); err != nil {
		t.Fatalf("verification should survive a usage tracking failure: %v", err)
	}
}

func TestSpecialCredentialSupersedesPredecessors(t *testing.T) {
	svc, _, users := newSessionFixture()
	owner := users.addUser(t, "reset@example.com", "correct horse", true)
	ctx := context.Background()

	first, err := svc.IssueSpecialCredential(ctx, owner, domain.KindPasswordReset)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := svc.IssueSpecialCredential(ctx, owner, domain.KindPasswordReset)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if _, err := svc.VerifySpecialCredential(ctx, first.Credential, domain.KindPasswordReset); !errors.Is(err, ErrCredentialRevoked) {
		t.Fatalf("superseded credential should be revoked, got %v", err)
	}
	if _, err := svc.VerifySpecialCredential(ctx, second.Credential, domain.KindPasswordReset); err != nil {
		t.Fatalf("latest credential should verify: %v", err)
	}
}

func TestSpecialCredentialKindMismatch(t *testing.T) {
	svc, _, users := newSessionFixture()
	owner := users.addUser(t, "kinds@example.com", "correct horse", true)
	ctx := context.Background()

	reset, err := svc.IssueSpecialCredential(ctx, owner, domain.KindPasswordReset)
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}

	if _, err := svc.VerifySpecialCredential(ctx, reset.Credential, domain.KindEmailVerification); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
	// An access verification path must reject special credentials too.
	if _, err := svc.VerifyAccessCredential(ctx, reset.Credential); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}

	if _, err := svc.IssueSpecialCredential(ctx, owner, domain.KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("access is not a special kind, got %v", err)
	}
}

func TestRevokeOneIsIdempotent(t *testing.T) {
	svc, _, users := newSessionFixture()
	owner := users.addUser(t, "twice@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	changed, err := svc.RevokeOne(ctx, issued.Credential, domain.RevokeReasonLogout)
	if err != nil || !changed {
		t.Fatalf("first revoke: changed=%v err=%v", changed, err)
	}
	changed, err = svc.RevokeOne(ctx, issued.Credential, domain.RevokeReasonLogout)
	if err != nil || changed {
		t.Fatalf("second revoke: changed=%v err=%v", changed, err)
	}
	changed, err = svc.RevokeOne(ctx, "unknown-token", domain.RevokeReasonLogout)
	if err != nil || changed {
		t.Fatalf("unknown token revoke: changed=%v err=%v", changed, err)
	}
}

func TestRevokeSessionEnforcesOwnership(t *testing.T) {
	svc, creds, users := newSessionFixture()
	alice := users.addUser(t, "alice@example.com", "correct horse", true)
	mallory := users.addUser(t, "mallory@example.com", "correct horse", true)
	ctx := context.Background()

	issued, err := svc.IssueAccessCredential(ctx, alice, domain.Provenance{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	changed, err := svc.RevokeSession(ctx, mallory.ID, issued.RecordID, domain.RevokeReasonManual)
	if err != nil {
		t.Fatalf("cross-owner revoke: %v", err)
	}
	if changed {
		t.Fatal("an owner must not revoke someone else's session")
	}
	if creds.activeCount(alice.ID) != 1 {
		t.Fatal("alice's credential should still be active")
	}

	changed, err = svc.RevokeSession(ctx, alice.ID, issued.RecordID, domain.RevokeReasonManual)
	if err != nil || !changed {
		t.Fatalf("owner revoke: changed=%v err=%v", changed, err)
	}
}

func TestListSessionsFlagsCurrent(t *testing.T) {
	svc, _, users := newSessionFixture()
	owner := users.addUser(t, "sessions@example.com", "correct horse", true)
	ctx := context.Background()

	first, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{DeviceLabel: "laptop"})
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	if _, err := svc.IssueAccessCredential(ctx, owner, domain.Provenance{DeviceLabel: "phone"}); err != nil {
		t.Fatalf("issue second: %v", err)
	}

	views, err := svc.ListSessions(ctx, owner.ID, first.RecordID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(views))
	}
	current := 0
	for _, v := range views {
		if v.IsCurrent {
			current++
			if v.ID != first.RecordID {
				t.Fatalf("wrong session flagged current: %s", v.ID)
			}
		}
		if v.Suffix == "" {
			t.Fatal("expected a display suffix")
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current session, got %d", current)
	}
}
