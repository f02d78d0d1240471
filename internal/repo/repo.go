package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/metrics"
	"github.com/imeapplication/regulatory-patrol/internal/store"
)

// Durable store keys.
const (
	KeyUsers             = "users"
	KeyCurrentUser       = "currentUser"
	KeyAllocationHistory = "allocationHistory"
	KeyComplianceData    = "complianceData"
)

var ErrNotFound = errors.New("not found")

// Repo reads and writes whole JSON documents through a store.Store. Unparseable documents
// are logged and replaced by the caller's fallback.
type Repo struct {
	Store   store.Store
	Log     zerolog.Logger
	Metrics *metrics.Recorder
}

// load decodes key into out. It reports false when the key is absent or its value is corrupt.
func (r Repo) load(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := r.Store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		r.Log.Warn().Err(err).Str("key", key).Msg("persisted value is not valid JSON; using defaults")
		return false, nil
	}
	return true, nil
}

func (r Repo) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.Store.Set(ctx, key, string(data)); err != nil {
		r.Metrics.PersistFailed(key)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// LoadUsers returns the persisted user list, or fallback when none is stored.
func (r Repo) LoadUsers(ctx context.Context, fallback []domain.User) ([]domain.User, error) {
	var users []domain.User
	found, err := r.load(ctx, KeyUsers, &users)
	if err != nil {
		return nil, err
	}
	if !found {
		return cloneUsers(fallback), nil
	}
	return users, nil
}

func (r Repo) SaveUsers(ctx context.Context, users []domain.User) error {
	if users == nil {
		users = []domain.User{}
	}
	return r.save(ctx, KeyUsers, users)
}

// LoadCurrentUser returns the session user or ErrNotFound when nobody is logged in.
func (r Repo) LoadCurrentUser(ctx context.Context) (domain.User, error) {
	var u domain.User
	found, err := r.load(ctx, KeyCurrentUser, &u)
	if err != nil {
		return domain.User{}, err
	}
	if !found || u.ID == "" {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (r Repo) SaveCurrentUser(ctx context.Context, u domain.User) error {
	return r.save(ctx, KeyCurrentUser, u)
}

func (r Repo) ClearCurrentUser(ctx context.Context) error {
	if err := r.Store.Delete(ctx, KeyCurrentUser); err != nil {
		r.Metrics.PersistFailed(KeyCurrentUser)
		return fmt.Errorf("delete %s: %w", KeyCurrentUser, err)
	}
	return nil
}

// LoadHistory returns the persisted allocation history in stored order.
func (r Repo) LoadHistory(ctx context.Context) ([]domain.AllocationHistoryEntry, error) {
	var entries []domain.AllocationHistoryEntry
	if _, err := r.load(ctx, KeyAllocationHistory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r Repo) SaveHistory(ctx context.Context, entries []domain.AllocationHistoryEntry) error {
	if entries == nil {
		entries = []domain.AllocationHistoryEntry{}
	}
	return r.save(ctx, KeyAllocationHistory, entries)
}

// LoadComplianceData returns the saved snapshot and true, or fallback and false when no
// snapshot was ever saved.
func (r Repo) LoadComplianceData(ctx context.Context, fallback domain.ComplianceData) (domain.ComplianceData, bool, error) {
	var data domain.ComplianceData
	found, err := r.load(ctx, KeyComplianceData, &data)
	if err != nil {
		return domain.ComplianceData{}, false, err
	}
	if !found {
		return fallback.Clone(), false, nil
	}
	return data, true, nil
}

func (r Repo) SaveComplianceData(ctx context.Context, data domain.ComplianceData) error {
	return r.save(ctx, KeyComplianceData, data)
}

func cloneUsers(in []domain.User) []domain.User {
	out := make([]domain.User, len(in))
	for i, u := range in {
		out[i] = u.Clone()
	}
	return out
}
