package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
)

func TestInsertRejectsDuplicateDigest(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "dup@example.com", true, nil)

	seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-dup", time.Now().Add(time.Hour))

	again := &domain.Credential{
		ID:        "11111111-1111-1111-1111-111111111111",
		OwnerID:   owner.ID,
		Kind:      domain.KindAccess,
		Digest:    "digest-dup",
		IsActive:  true,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := repo.Insert(context.Background(), again); !errors.Is(err, ErrDuplicateDigest) {
		t.Fatalf("expected ErrDuplicateDigest, got %v", err)
	}
}

func TestFindActiveByDigestExcludesRevokedAndExpired(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "find@example.com", true, nil)
	ctx := context.Background()

	live := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-live", time.Now().Add(time.Hour))
	revoked := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-revoked", time.Now().Add(time.Hour))
	seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-expired", time.Now().Add(-time.Minute))

	if _, err := repo.Revoke(ctx, revoked.ID, domain.RevokeReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	got, err := repo.FindActiveByDigest(ctx, "digest-live")
	if err != nil {
		t.Fatalf("find live: %v", err)
	}
	if got.ID != live.ID {
		t.Fatalf("expected credential %s, got %s", live.ID, got.ID)
	}

	if _, err := repo.FindActiveByDigest(ctx, "digest-revoked"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("revoked digest: expected ErrCredentialNotFound, got %v", err)
	}
	if _, err := repo.FindActiveByDigest(ctx, "digest-expired"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expired digest: expected ErrCredentialNotFound, got %v", err)
	}

	// FindByDigest still sees the revoked record for audit paths.
	raw, err := repo.FindByDigest(ctx, "digest-revoked")
	if err != nil {
		t.Fatalf("find raw: %v", err)
	}
	if raw.IsActive {
		t.Fatal("expected revoked record to be inactive")
	}
}

func TestTouchUsageCountsConcurrentHits(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "touch@example.com", true, nil)
	cred := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-touch", time.Now().Add(time.Hour))

	const hits = 20
	var wg sync.WaitGroup
	errs := make(chan error, hits)
	for i := 0; i < hits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.TouchUsage(context.Background(), cred.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("touch usage: %v", err)
		}
	}

	got, err := repo.FindByDigest(context.Background(), "digest-touch")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.UsageCount != hits {
		t.Fatalf("expected usage count %d, got %d", hits, got.UsageCount)
	}
	if got.LastUsedAt == nil {
		t.Fatal("expected last_used_at to be set")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "revoke@example.com", true, nil)
	cred := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-once", time.Now().Add(time.Hour))
	ctx := context.Background()

	changed, err := repo.Revoke(ctx, cred.ID, domain.RevokeReasonLogout)
	if err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if !changed {
		t.Fatal("first revoke should report a change")
	}

	changed, err = repo.Revoke(ctx, cred.ID, domain.RevokeReasonLogout)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if changed {
		t.Fatal("second revoke should be a no-op")
	}

	changed, err = repo.Revoke(ctx, "no-such-id", domain.RevokeReasonManual)
	if err != nil {
		t.Fatalf("revoke missing: %v", err)
	}
	if changed {
		t.Fatal("revoking an unknown id should be a no-op")
	}

	got, err := repo.FindByDigest(ctx, "digest-once")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.RevokedReason == nil || *got.RevokedReason != domain.RevokeReasonLogout {
		t.Fatalf("expected reason %q, got %v", domain.RevokeReasonLogout, got.RevokedReason)
	}
}

func TestRevokeAllForOwnerLeavesOtherOwnersAlone(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	alice := seedUser(t, gdb, "alice@example.com", true, nil)
	bob := seedUser(t, gdb, "bob@example.com", true, nil)
	ctx := context.Background()

	seedCredential(t, repo, alice.ID, domain.KindAccess, "digest-a1", time.Now().Add(time.Hour))
	seedCredential(t, repo, alice.ID, domain.KindPasswordReset, "digest-a2", time.Now().Add(time.Hour))
	seedCredential(t, repo, bob.ID, domain.KindAccess, "digest-b1", time.Now().Add(time.Hour))

	count, err := repo.RevokeAllForOwner(ctx, alice.ID, domain.RevokeReasonLogoutAll)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 revoked, got %d", count)
	}

	remaining, err := repo.ListActiveByOwner(ctx, bob.ID)
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected bob to keep 1 credential, got %d", len(remaining))
	}
}

func TestSupersedeOwnerKindOnlyTouchesThatKind(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "supersede@example.com", true, nil)
	ctx := context.Background()

	seedCredential(t, repo, owner.ID, domain.KindPasswordReset, "digest-r1", time.Now().Add(time.Hour))
	seedCredential(t, repo, owner.ID, domain.KindPasswordReset, "digest-r2", time.Now().Add(time.Hour))
	access := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-keep", time.Now().Add(time.Hour))

	count, err := repo.SupersedeOwnerKind(ctx, owner.ID, domain.KindPasswordReset, domain.RevokeReasonSuperseded)
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 superseded, got %d", count)
	}

	active, err := repo.ListActiveByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != access.ID {
		t.Fatalf("expected only the access credential to survive, got %d records", len(active))
	}
}

func TestDeleteExpiredFiltersByKind(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "expired@example.com", true, nil)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-e1", past)
	seedCredential(t, repo, owner.ID, domain.KindPasswordReset, "digest-e2", past)
	seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-fresh", time.Now().Add(time.Hour))

	count, err := repo.DeleteExpired(ctx, domain.KindAccess)
	if err != nil {
		t.Fatalf("delete expired access: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deleted, got %d", count)
	}

	// Without a kind filter the remaining expired record goes too.
	count, err = repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deleted, got %d", count)
	}

	if _, err := repo.FindActiveByDigest(ctx, "digest-fresh"); err != nil {
		t.Fatalf("fresh credential should survive: %v", err)
	}
}

func TestDeleteRevokedOlderThanKeepsRecentRevocations(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "retention@example.com", true, nil)
	ctx := context.Background()

	old := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-old", time.Now().Add(time.Hour))
	recent := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-recent", time.Now().Add(time.Hour))

	for _, c := range []*domain.Credential{old, recent} {
		if _, err := repo.Revoke(ctx, c.ID, domain.RevokeReasonSecurity); err != nil {
			t.Fatalf("revoke: %v", err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := gdb.Model(&domain.Credential{}).Where("id = ?", old.ID).
		UpdateColumn("revoked_at", stale).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	count, err := repo.DeleteRevokedOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("delete revoked: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deleted, got %d", count)
	}
	if _, err := repo.FindByDigest(ctx, "digest-recent"); err != nil {
		t.Fatalf("recent revocation should survive: %v", err)
	}
}

func TestDeleteOverusedHonorsPerKindThresholds(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "overuse@example.com", true, nil)
	ctx := context.Background()

	heavy := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-heavy", time.Now().Add(time.Hour))
	light := seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-light", time.Now().Add(time.Hour))
	reset := seedCredential(t, repo, owner.ID, domain.KindPasswordReset, "digest-busy-reset", time.Now().Add(time.Hour))

	for id, n := range map[string]int64{heavy.ID: 10, light.ID: 3, reset.ID: 10} {
		if err := gdb.Model(&domain.Credential{}).Where("id = ?", id).
			UpdateColumn("usage_count", n).Error; err != nil {
			t.Fatalf("set usage: %v", err)
		}
	}

	count, err := repo.DeleteOverused(ctx, map[domain.CredentialKind]int64{
		domain.KindAccess: 5,
	})
	if err != nil {
		t.Fatalf("delete overused: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deleted, got %d", count)
	}
	if _, err := repo.FindByDigest(ctx, "digest-busy-reset"); err != nil {
		t.Fatalf("kind without a threshold should survive: %v", err)
	}
	if _, err := repo.FindByDigest(ctx, "digest-light"); err != nil {
		t.Fatalf("credential under the threshold should survive: %v", err)
	}
}

func TestDeleteForInactiveOwners(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	ctx := context.Background()

	recentLogin := time.Now().Add(-time.Hour)
	staleLogin := time.Now().Add(-90 * 24 * time.Hour)
	activeOwner := seedUser(t, gdb, "active@example.com", true, &recentLogin)
	dormantOwner := seedUser(t, gdb, "dormant@example.com", true, &staleLogin)

	keep := seedCredential(t, repo, activeOwner.ID, domain.KindAccess, "digest-keep-active", time.Now().Add(time.Hour))
	seedCredential(t, repo, dormantOwner.ID, domain.KindAccess, "digest-drop-1", time.Now().Add(time.Hour))
	seedCredential(t, repo, dormantOwner.ID, domain.KindEmailVerification, "digest-drop-2", time.Now().Add(time.Hour))

	count, err := repo.DeleteForInactiveOwners(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("delete for inactive owners: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deleted, got %d", count)
	}
	if _, err := repo.FindByDigest(ctx, keep.Digest); err != nil {
		t.Fatalf("active owner's credential should survive: %v", err)
	}
}

func TestStatsGroupsByKind(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCredentialRepository(gdb)
	owner := seedUser(t, gdb, "stats@example.com", true, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedCredential(t, repo, owner.ID, domain.KindAccess,
			fmt.Sprintf("digest-stat-%d", i), time.Now().Add(time.Hour))
	}
	seedCredential(t, repo, owner.ID, domain.KindAccess, "digest-stat-old", time.Now().Add(-time.Hour))
	revoked := seedCredential(t, repo, owner.ID, domain.KindPasswordReset, "digest-stat-gone", time.Now().Add(time.Hour))
	if _, err := repo.Revoke(ctx, revoked.ID, domain.RevokeReasonManual); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats.Total[domain.KindAccess]; got != 4 {
		t.Fatalf("expected 4 access total, got %d", got)
	}
	if got := stats.Active[domain.KindAccess]; got != 3 {
		t.Fatalf("expected 3 access active, got %d", got)
	}
	if got := stats.Expired[domain.KindAccess]; got != 1 {
		t.Fatalf("expected 1 access expired, got %d", got)
	}
	if got := stats.Revoked[domain.KindPasswordReset]; got != 1 {
		t.Fatalf("expected 1 reset revoked, got %d", got)
	}
	if got := stats.TotalCount(); got != 5 {
		t.Fatalf("expected 5 records overall, got %d", got)
	}
}
