package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/compliance"
	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/history"
	"github.com/imeapplication/regulatory-patrol/internal/metrics"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
	"github.com/imeapplication/regulatory-patrol/internal/users"
)

// RejectReason says why an allocation call changed nothing.
type RejectReason string

const (
	ReasonAlreadyAssigned RejectReason = "already_assigned"
	ReasonNotAssigned     RejectReason = "not_assigned"
	ReasonRoleMismatch    RejectReason = "role_mismatch"
	ReasonUserNotFound    RejectReason = "user_not_found"
)

// Result reports the outcome of an assign or remove call. Callers that only care about the
// permissive behavior may ignore it.
type Result struct {
	Applied bool         `json:"applied"`
	Reason  RejectReason `json:"reason,omitempty"`
	// Displaced is the user the name was taken from by an assignment, if any.
	Displaced string `json:"displaced,omitempty"`
}

// Engine serializes allocation changes across the directory, the history log and the hierarchy.
// Build it with New; a literal Engine falls back to one lock shared by all such engines.
type Engine struct {
	Users   *users.Directory
	History *history.Log
	Data    *compliance.Holder
	Metrics *metrics.Recorder
	Log     zerolog.Logger
	Now     func() time.Time

	mu *sync.Mutex
}

// New wires an engine and binds task managers already recorded on users into the hierarchy.
func New(dir *users.Directory, log *history.Log, data *compliance.Holder, rec *metrics.Recorder, logger zerolog.Logger) Engine {
	e := Engine{
		Users:   dir,
		History: log,
		Data:    data,
		Metrics: rec,
		Log:     logger,
		Now:     time.Now,
		mu:      &sync.Mutex{},
	}
	bindings := map[string]string{}
	for _, u := range dir.ByRole(domain.RoleTaskManager) {
		for _, task := range u.Permissions.ManageableTasks {
			bindings[task] = u.ID
		}
	}
	if n := data.Rebind(bindings); n > 0 {
		logger.Info().Int("tasks", n).Msg("stale task manager bindings cleared")
	}
	return e
}

var fallbackMu sync.Mutex

func (e Engine) lock() func() {
	mu := e.mu
	if mu == nil {
		mu = &fallbackMu
	}
	mu.Lock()
	return mu.Unlock
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// scope describes one of the three allocation sets held on a user.
type scope struct {
	role domain.AllocationRole
	set  func(*domain.Permissions) *[]string
}

var (
	accountableScope = scope{domain.AllocDomainAccountable, func(p *domain.Permissions) *[]string { return &p.AccountableDomains }}
	managerScope     = scope{domain.AllocDomainManager, func(p *domain.Permissions) *[]string { return &p.ManageableDomains }}
	taskScope        = scope{domain.AllocTaskManager, func(p *domain.Permissions) *[]string { return &p.ManageableTasks }}
)

func (s scope) holds(u domain.User, name string) bool {
	return contains(*s.set(&u.Permissions), name)
}

func (s scope) entry(userID, domainName, name string, action domain.AllocationAction) domain.AllocationHistoryEntry {
	e := domain.AllocationHistoryEntry{UserID: userID, Action: action, Role: s.role}
	if s.role == domain.AllocTaskManager {
		e.DomainName = domainName
		e.TaskName = name
	} else {
		e.DomainName = name
	}
	return e
}

func (e Engine) AssignDomainToAccountable(ctx context.Context, userID, domainName string) (Result, error) {
	return e.assign(ctx, "assign_domain_accountable", accountableScope, userID, "", domainName)
}

func (e Engine) RemoveDomainFromAccountable(ctx context.Context, userID, domainName string) (Result, error) {
	return e.remove(ctx, "remove_domain_accountable", accountableScope, userID, domainName)
}

func (e Engine) AssignDomainToManager(ctx context.Context, userID, domainName string) (Result, error) {
	return e.assign(ctx, "assign_domain_manager", managerScope, userID, "", domainName)
}

func (e Engine) RemoveDomainFromManager(ctx context.Context, userID, domainName string) (Result, error) {
	return e.remove(ctx, "remove_domain_manager", managerScope, userID, domainName)
}

// AssignTaskToManager also records the manager on the task in the hierarchy.
func (e Engine) AssignTaskToManager(ctx context.Context, userID, domainName, taskName string) (Result, error) {
	return e.assign(ctx, "assign_task_manager", taskScope, userID, domainName, taskName)
}

func (e Engine) RemoveTaskFromManager(ctx context.Context, userID, taskName string) (Result, error) {
	return e.remove(ctx, "remove_task_manager", taskScope, userID, taskName)
}

// check loads the user and applies the role gate.
func (e Engine) check(s scope, userID string) (domain.User, RejectReason) {
	u, err := e.Users.Get(userID)
	if err != nil {
		return domain.User{}, ReasonUserNotFound
	}
	if u.Role != s.role.UserRole() {
		return u, ReasonRoleMismatch
	}
	return u, ""
}

// assign adds name to the user after taking it from any other holder. All user records change
// in one write and all history entries are appended in one write; if the history write fails
// the records are put back.
func (e Engine) assign(ctx context.Context, op string, s scope, userID, domainName, name string) (Result, error) {
	defer e.lock()()

	u, reason := e.check(s, userID)
	if reason != "" {
		return e.reject(op, reason, userID, name), nil
	}
	if s.holds(u, name) {
		return e.reject(op, ReasonAlreadyAssigned, userID, name), nil
	}
	if s.role == domain.AllocTaskManager && domainName == "" {
		if _, d, ok := e.Data.FindTask(name); ok {
			domainName = d
		}
	}

	res := Result{Applied: true}
	var prev, next []domain.User
	var entries []domain.AllocationHistoryEntry
	var displaced []string
	for _, other := range e.Users.List() {
		if other.ID == userID || !s.holds(other, name) {
			continue
		}
		prev = append(prev, other.Clone())
		set := s.set(&other.Permissions)
		*set = without(*set, name)
		next = append(next, other)
		entries = append(entries, s.entry(other.ID, domainName, name, domain.ActionRemoved))
		displaced = append(displaced, other.ID)
		res.Displaced = other.ID
	}
	prev = append(prev, u.Clone())
	set := s.set(&u.Permissions)
	*set = append(*set, name)
	next = append(next, u)
	entries = append(entries, s.entry(userID, domainName, name, domain.ActionAssigned))

	if err := e.commit(ctx, prev, next, entries); err != nil {
		e.Metrics.Operation(op, metrics.OutcomeError)
		return Result{}, err
	}
	for _, id := range displaced {
		if s.role == domain.AllocTaskManager {
			e.Data.ClearTaskManager(name, id)
		}
		e.Metrics.Displaced()
		e.Log.Info().Str("op", op).Str("user_id", id).Str("name", name).Msg("previous holder displaced")
	}
	if s.role == domain.AllocTaskManager {
		e.Data.SetTaskManager(domainName, name, userID)
	}
	e.Metrics.Operation(op, metrics.OutcomeApplied)
	e.Log.Info().Str("op", op).Str("user_id", userID).Str("name", name).Msg("allocation assigned")
	return res, nil
}

func (e Engine) remove(ctx context.Context, op string, s scope, userID, name string) (Result, error) {
	defer e.lock()()

	u, reason := e.check(s, userID)
	if reason != "" {
		return e.reject(op, reason, userID, name), nil
	}
	if !s.holds(u, name) {
		return e.reject(op, ReasonNotAssigned, userID, name), nil
	}
	domainName := ""
	if s.role == domain.AllocTaskManager {
		if _, d, ok := e.Data.FindTask(name); ok {
			domainName = d
		}
	}
	if err := e.drop(ctx, s, u, domainName, name); err != nil {
		e.Metrics.Operation(op, metrics.OutcomeError)
		return Result{}, err
	}
	e.Metrics.Operation(op, metrics.OutcomeApplied)
	e.Log.Info().Str("op", op).Str("user_id", userID).Str("name", name).Msg("allocation removed")
	return Result{Applied: true}, nil
}

// drop takes name away from u and records the removal. It skips the role gate and expects
// the caller to hold the engine lock.
func (e Engine) drop(ctx context.Context, s scope, u domain.User, domainName, name string) error {
	prev := u.Clone()
	set := s.set(&u.Permissions)
	*set = without(*set, name)
	if err := e.commit(ctx, []domain.User{prev}, []domain.User{u}, []domain.AllocationHistoryEntry{
		s.entry(u.ID, domainName, name, domain.ActionRemoved),
	}); err != nil {
		return err
	}
	if s.role == domain.AllocTaskManager {
		e.Data.ClearTaskManager(name, u.ID)
	}
	return nil
}

// commit writes next and then entries. If the history write fails the prev records are written
// back so no user change survives without its history.
func (e Engine) commit(ctx context.Context, prev, next []domain.User, entries []domain.AllocationHistoryEntry) error {
	if err := e.Users.UpdateMany(ctx, next...); err != nil {
		return err
	}
	if _, err := e.History.AppendAll(ctx, entries...); err != nil {
		if rerr := e.Users.UpdateMany(ctx, prev...); rerr != nil && !errors.Is(rerr, repo.ErrNotFound) {
			e.Log.Error().Err(rerr).Int("users", len(prev)).Msg("could not restore users after failed history write")
		}
		return err
	}
	return nil
}

func (e Engine) reject(op string, reason RejectReason, userID, name string) Result {
	switch reason {
	case ReasonAlreadyAssigned, ReasonNotAssigned:
		e.Metrics.Operation(op, metrics.OutcomeNoop)
		e.Log.Debug().Str("op", op).Str("user_id", userID).Str("name", name).Str("reason", string(reason)).Msg("allocation unchanged")
	default:
		e.Metrics.Operation(op, metrics.OutcomeRejected)
		e.Log.Warn().Str("op", op).Str("user_id", userID).Str("name", name).Str("reason", string(reason)).Msg("allocation rejected")
	}
	return Result{Reason: reason}
}

func contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

func without(set []string, name string) []string {
	var out []string
	for _, s := range set {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}
