package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

func sampleRecord(accountID int64, host string) domain.ManagedRecord {
	return domain.ManagedRecord{
		AccountID:        accountID,
		Host:             host,
		Domain:           "example.com",
		Type:             domain.RecordA,
		ProviderRecordID: 42,
		TTL:              600,
		Value:            "203.0.113.1",
	}
}

// testRegistryContract runs the behaviour every backend must share.
func testRegistryContract(t *testing.T, newStore func(t *testing.T) Registry) {
	t.Run("accounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		acct, err := s.CreateAccount(ctx, domain.Account{Name: "home", SecretID: "AKID1", SecretKey: "key-1"})
		if err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
		if acct.ID == 0 || acct.SecretKey != "" {
			t.Fatalf("unexpected account %+v", acct)
		}
		if _, err := s.CreateAccount(ctx, domain.Account{Name: "home", SecretID: "AKID2", SecretKey: "key-2"}); !errors.Is(err, ErrDuplicateAccount) {
			t.Fatalf("want ErrDuplicateAccount, got %v", err)
		}
		if _, err := s.CreateAccount(ctx, domain.Account{Name: "empty"}); err == nil {
			t.Fatalf("expected validation error")
		}

		creds, err := s.Credentials(ctx, acct.ID)
		if err != nil {
			t.Fatalf("Credentials: %v", err)
		}
		if creds.SecretID != "AKID1" || creds.SecretKey != "key-1" {
			t.Fatalf("unexpected credentials %v", creds)
		}
		if _, err := s.Credentials(ctx, 999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}

		list, err := s.ListAccounts(ctx)
		if err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
		if len(list) != 1 || list[0].Name != "home" || list[0].SecretKey != "" {
			t.Fatalf("unexpected accounts %+v", list)
		}
	})

	t.Run("record lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, sampleRecord(1, "www"))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID == 0 || created.CreatedAt.IsZero() {
			t.Fatalf("unexpected created record %+v", created)
		}

		got, err := s.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.FQDN() != "www.example.com" || got.ProviderRecordID != 42 || got.Value != "203.0.113.1" {
			t.Fatalf("unexpected record %+v", got)
		}

		got.Value = "203.0.113.2"
		if err := s.Update(ctx, got.ID, got); err != nil {
			t.Fatalf("Update: %v", err)
		}
		after, err := s.Get(ctx, got.ID)
		if err != nil {
			t.Fatalf("Get after update: %v", err)
		}
		if after.Value != "203.0.113.2" {
			t.Fatalf("update not persisted: %+v", after)
		}

		after.Host = "api"
		if err := s.Update(ctx, after.ID, after); err != nil {
			t.Fatalf("Update host: %v", err)
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 1 || list[0].Host != "api" {
			t.Fatalf("unexpected list after host change %+v", list)
		}

		if err := s.Delete(ctx, after.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, after.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, after.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound on second delete, got %v", err)
		}
		if err := s.Update(ctx, after.ID, after); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound on update of deleted record, got %v", err)
		}
	})

	t.Run("host unique per account", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.Create(ctx, sampleRecord(1, "www"))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		dup := sampleRecord(1, "WWW")
		dup.Type = domain.RecordAAAA
		dup.Value = "2001:db8::1"
		if _, err := s.Create(ctx, dup); !errors.Is(err, ErrDuplicateRecord) {
			t.Fatalf("want ErrDuplicateRecord, got %v", err)
		}
		if _, err := s.Create(ctx, sampleRecord(2, "www")); err != nil {
			t.Fatalf("same host under another account should be allowed: %v", err)
		}

		second, err := s.Create(ctx, sampleRecord(1, "api"))
		if err != nil {
			t.Fatalf("Create api: %v", err)
		}
		second.Host = first.Host
		if err := s.Update(ctx, second.ID, second); !errors.Is(err, ErrDuplicateRecord) {
			t.Fatalf("want ErrDuplicateRecord on update, got %v", err)
		}
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		s := newStore(t)
		bad := sampleRecord(1, "www")
		bad.Value = "2001:db8::1"
		if _, err := s.Create(context.Background(), bad); err == nil {
			t.Fatalf("expected validation error for v6 value in A record")
		}
	})

	t.Run("lock transaction serializes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var mu sync.Mutex
		inside, maxInside := 0, 0
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.LockTransaction(ctx, []string{"__global__", "__global__"}, func() error {
					mu.Lock()
					inside++
					if inside > maxInside {
						maxInside = inside
					}
					mu.Unlock()
					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
				if err != nil {
					t.Errorf("LockTransaction: %v", err)
				}
			}()
		}
		wg.Wait()
		if maxInside != 1 {
			t.Fatalf("lock held by %d callers at once", maxInside)
		}

		want := errors.New("boom")
		if err := s.LockTransaction(ctx, []string{"k"}, func() error { return want }); !errors.Is(err, want) {
			t.Fatalf("fn error should propagate, got %v", err)
		}
	})
}
