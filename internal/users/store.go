// Package users persists JetVein accounts in an embedded BadgerDB.
//
// Layout:
//
//	user:<id>            → JSON-encoded User
//	user_email:<email>   → id (unique index, lower-cased email)
package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	userKeyPrefix  = "user:"
	emailKeyPrefix = "user_email:"
)

var (
	ErrNotFound   = errors.New("users: not found")
	ErrEmailTaken = errors.New("users: email already registered")
)

// User is a stored account. PasswordHash is never serialized to clients;
// use Public for responses.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"passwordHash"`
	EmailVerified *time.Time `json:"emailVerified"`
	Image         string     `json:"image,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// PublicUser is the client-facing projection of a User.
type PublicUser struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	EmailVerified *time.Time `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Stats summarizes the store for health reporting.
type Stats struct {
	Users    int   `json:"usersCount"`
	LSMBytes int64 `json:"lsmSize"`
	LogBytes int64 `json:"vlogSize"`
}

// Store is a BadgerDB-backed account store. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens the store described by databaseURL:
//
//	memory://                  in-memory, nothing written to disk
//	badger:///var/lib/jetvein  on-disk directory
//	file:///var/lib/jetvein    same as badger://
//	/var/lib/jetvein           bare directory path
func Open(databaseURL string) (*Store, error) {
	opts, err := badgerOptions(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("users: open: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open database. The caller keeps ownership.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func badgerOptions(databaseURL string) (badger.Options, error) {
	raw := strings.TrimSpace(databaseURL)
	if raw == "" {
		return badger.Options{}, fmt.Errorf("users: database url is empty")
	}

	if !strings.Contains(raw, "://") {
		return badger.DefaultOptions(raw), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return badger.Options{}, fmt.Errorf("users: parse database url: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return badger.DefaultOptions("").WithInMemory(true), nil
	case "badger", "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return badger.Options{}, fmt.Errorf("users: database url %q has no path", raw)
		}
		return badger.DefaultOptions(path), nil
	default:
		return badger.Options{}, fmt.Errorf("users: unsupported database scheme %q", u.Scheme)
	}
}

// Create stores u, assigning nothing: ID, timestamps and the normalized
// email must already be set. Returns ErrEmailTaken when the email exists.
func (s *Store) Create(_ context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("users: marshal: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		emailKey := []byte(emailKeyPrefix + u.Email)
		if _, err := txn.Get(emailKey); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("lookup email: %w", err)
		}

		if err := txn.Set([]byte(userKeyPrefix+u.ID), data); err != nil {
			return fmt.Errorf("set user: %w", err)
		}
		if err := txn.Set(emailKey, []byte(u.ID)); err != nil {
			return fmt.Errorf("set email index: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrEmailTaken):
		return ErrEmailTaken
	case errors.Is(err, badger.ErrConflict):
		// A concurrent signup committed the same email first.
		return ErrEmailTaken
	case err != nil:
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

// FindByEmail returns the user registered under email, or ErrNotFound.
func (s *Store) FindByEmail(_ context.Context, email string) (*User, error) {
	var u User

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(emailKeyPrefix + NormalizeEmail(email)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get email index: %w", err)
		}

		id, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read email index: %w", err)
		}

		item, err = txn.Get([]byte(userKeyPrefix + string(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: find by email: %w", err)
	}
	return &u, nil
}

// EmailAvailable reports whether no account uses email.
func (s *Store) EmailAvailable(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Count returns the number of stored users.
func (s *Store) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(userKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("users: count: %w", err)
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	lsm, vlog := s.db.Size()
	return Stats{Users: n, LSMBytes: lsm, LogBytes: vlog}, nil
}

// Ping reports an error when the database has been closed.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("users: database closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}
