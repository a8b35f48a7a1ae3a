package users

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("memory://")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newUser(email string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.NewString(),
		Name:         "Asha",
		Email:        NormalizeEmail(email),
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newUser("Asha@Example.com ")
	if err := s.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.FindByEmail(ctx, "ASHA@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.ID != u.ID || got.Email != "asha@example.com" || got.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.EmailVerified != nil {
		t.Fatal("emailVerified should be nil")
	}
}

func TestStore_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, newUser("dup@example.com")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, newUser("dup@example.com")); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second Create err = %v, want ErrEmailTaken", err)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v; want 1", n, err)
	}
}

func TestStore_ConcurrentSignupsSameEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(ctx, newUser("race@example.com")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("created %d accounts, want exactly 1", created)
	}
}

func TestStore_NotFoundAndAvailability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	ok, err := s.EmailAvailable(ctx, "nobody@example.com")
	if err != nil || !ok {
		t.Fatalf("EmailAvailable = %v, %v", ok, err)
	}

	_ = s.Create(ctx, newUser("taken@example.com"))
	ok, err = s.EmailAvailable(ctx, "Taken@Example.com")
	if err != nil || ok {
		t.Fatalf("EmailAvailable(taken) = %v, %v", ok, err)
	}
}

func TestStore_StatsAndPing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Create(ctx, newUser("a@example.com"))
	_ = s.Create(ctx, newUser("b@example.com"))

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Users != 2 {
		t.Fatalf("Users = %d, want 2", st.Users)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestStore_PingAfterClose(t *testing.T) {
	s, err := Open("memory://")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Close()

	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping on closed store should fail")
	}
}

func TestStore_OnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "users")
	ctx := context.Background()

	s, err := Open("badger://" + dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	u := newUser("disk@example.com")
	if err := s.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.FindByEmail(ctx, "disk@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("FindByEmail after reopen = %+v, %v", got, err)
	}
}

func TestBadgerOptions(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
		inMem   bool
		dir     string
	}{
		{url: "memory://", inMem: true},
		{url: "badger:///var/lib/jetvein", dir: "/var/lib/jetvein"},
		{url: "file:///tmp/jv", dir: "/tmp/jv"},
		{url: "./data", dir: "./data"},
		{url: "", wantErr: true},
		{url: "mongodb://localhost/jetvein", wantErr: true},
		{url: "badger://", wantErr: true},
	}

	for _, tt := range tests {
		opts, err := badgerOptions(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("badgerOptions(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if opts.InMemory != tt.inMem {
			t.Errorf("badgerOptions(%q).InMemory = %v", tt.url, opts.InMemory)
		}
		if !tt.inMem && opts.Dir != tt.dir {
			t.Errorf("badgerOptions(%q).Dir = %q, want %q", tt.url, opts.Dir, tt.dir)
		}
	}
}

func TestPublicOmitsPassword(t *testing.T) {
	u := newUser("p@example.com")
	p := u.Public()
	if p.ID != u.ID || p.Email != u.Email {
		t.Fatalf("unexpected projection: %+v", p)
	}
}
