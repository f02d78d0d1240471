// Package users holds the user directory and the login session marker.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
)

var (
	ErrDuplicateID    = errors.New("user id already exists")
	ErrDuplicateEmail = errors.New("user email already exists")
)

// Directory is the process-wide user list. Every mutation writes the full list back to the
// store before it becomes visible.
type Directory struct {
	mu      sync.RWMutex
	users   []domain.User
	current string // session user id, "" when logged out
	repo    repo.Repo
	log     zerolog.Logger

	// NewID issues ids for users added without one.
	NewID func() string
}

// Load builds a directory from the store, falling back to seed when no list was persisted.
func Load(ctx context.Context, r repo.Repo, seed []domain.User, log zerolog.Logger) (*Directory, error) {
	list, err := r.LoadUsers(ctx, seed)
	if err != nil {
		return nil, err
	}
	d := &Directory{users: list, repo: r, log: log, NewID: uuid.NewString}
	cur, err := r.LoadCurrentUser(ctx)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if d.indexOf(cur.ID) >= 0 {
			d.current = cur.ID
		} else {
			log.Warn().Str("user_id", cur.ID).Msg("session user no longer exists; session dropped")
		}
	}
	return d, nil
}

func (d *Directory) indexOf(id string) int {
	for i, u := range d.users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (d *Directory) emailTaken(email, exceptID string) bool {
	for _, u := range d.users {
		if u.Email == email && u.ID != exceptID {
			return true
		}
	}
	return false
}

// List returns copies of all users in insertion order.
func (d *Directory) List() []domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.User, len(d.users))
	for i, u := range d.users {
		out[i] = u.Clone()
	}
	return out
}

// ByRole returns the users holding role, in insertion order.
func (d *Directory) ByRole(role domain.Role) []domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u.Clone())
		}
	}
	return out
}

func (d *Directory) Get(id string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.indexOf(id)
	if i < 0 {
		return domain.User{}, repo.ErrNotFound
	}
	return d.users[i].Clone(), nil
}

// FindByEmail is an exact, case-sensitive lookup.
func (d *Directory) FindByEmail(email string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return domain.User{}, repo.ErrNotFound
}

// Add appends a user. An empty id is issued by the directory; a supplied id must be unused.
// Capability flags always follow the role.
func (d *Directory) Add(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.Email) == "" {
		return domain.User{}, errors.New("email is required")
	}
	if _, err := domain.ParseRole(string(u.Role)); err != nil {
		return domain.User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == "" {
		u.ID = d.NewID()
	}
	if d.indexOf(u.ID) >= 0 {
		return domain.User{}, fmt.Errorf("%w: %s", ErrDuplicateID, u.ID)
	}
	if d.emailTaken(u.Email, "") {
		return domain.User{}, fmt.Errorf("%w: %s", ErrDuplicateEmail, u.Email)
	}
	u = u.Clone()
	u.Permissions = u.Permissions.WithRoleFlags(u.Role)
	next := append(d.snapshot(), u)
	if err := d.repo.SaveUsers(ctx, next); err != nil {
		return domain.User{}, err
	}
	d.users = next
	d.log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user added")
	return u.Clone(), nil
}

// Update replaces the user with the same id. A missing id returns repo.ErrNotFound and changes
// nothing. The session record follows updates to the logged-in user.
func (d *Directory) Update(ctx context.Context, u domain.User) error {
	return d.UpdateMany(ctx, u)
}

// UpdateMany replaces several users with one write, so either every record changes or none
// does. Any missing id returns repo.ErrNotFound before anything is written.
func (d *Directory) UpdateMany(ctx context.Context, list ...domain.User) error {
	for _, u := range list {
		if _, err := domain.ParseRole(string(u.Role)); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.snapshot()
	session := -1
	for _, u := range list {
		i := d.indexOf(u.ID)
		if i < 0 {
			d.log.Debug().Str("user_id", u.ID).Msg("update skipped; user not found")
			return repo.ErrNotFound
		}
		for j, other := range next {
			if j != i && other.Email == u.Email {
				return fmt.Errorf("%w: %s", ErrDuplicateEmail, u.Email)
			}
		}
		u = u.Clone()
		u.Permissions = u.Permissions.WithRoleFlags(u.Role)
		next[i] = u
		if d.current == u.ID {
			session = i
		}
	}
	if len(list) == 0 {
		return nil
	}
	if err := d.repo.SaveUsers(ctx, next); err != nil {
		return err
	}
	d.users = next
	if session >= 0 {
		if err := d.repo.SaveCurrentUser(ctx, next[session]); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the user record only. Allocation history and hierarchy references are left
// for the caller to reconcile.
func (d *Directory) Remove(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(id)
	if i < 0 {
		return repo.ErrNotFound
	}
	next := make([]domain.User, 0, len(d.users)-1)
	next = append(next, d.users[:i]...)
	next = append(next, d.users[i+1:]...)
	if err := d.repo.SaveUsers(ctx, next); err != nil {
		return err
	}
	d.users = next
	if d.current == id {
		d.current = ""
		if err := d.repo.ClearCurrentUser(ctx); err != nil {
			return err
		}
	}
	d.log.Info().Str("user_id", id).Msg("user removed")
	return nil
}

// Login starts a session for the user with this exact email.
func (d *Directory) Login(ctx context.Context, email string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email != email {
			continue
		}
		if err := d.repo.SaveCurrentUser(ctx, u); err != nil {
			return false, err
		}
		d.current = u.ID
		return true, nil
	}
	return false, nil
}

func (d *Directory) Logout(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = ""
	return d.repo.ClearCurrentUser(ctx)
}

// Current returns the logged-in user.
func (d *Directory) Current() (domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == "" {
		return domain.User{}, false
	}
	i := d.indexOf(d.current)
	if i < 0 {
		return domain.User{}, false
	}
	return d.users[i].Clone(), true
}

// IsAdmin reports whether the session user is an Administrator.
func (d *Directory) IsAdmin() bool {
	u, ok := d.Current()
	return ok && u.Role == domain.RoleAdministrator
}

func (d *Directory) snapshot() []domain.User {
	out := make([]domain.User, len(d.users), len(d.users)+1)
	for i, u := range d.users {
		out[i] = u.Clone()
	}
	return out
}
