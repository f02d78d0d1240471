package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/compliance"
	"github.com/imeapplication/regulatory-patrol/internal/config"
	"github.com/imeapplication/regulatory-patrol/internal/db"
	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/engine"
	"github.com/imeapplication/regulatory-patrol/internal/history"
	"github.com/imeapplication/regulatory-patrol/internal/metrics"
	"github.com/imeapplication/regulatory-patrol/internal/migrate"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
	"github.com/imeapplication/regulatory-patrol/internal/seed"
	"github.com/imeapplication/regulatory-patrol/internal/store"
	"github.com/imeapplication/regulatory-patrol/internal/users"
)

// Seed user ids from the default config.
const (
	admin       = "1"
	manager     = "2"
	accountable = "3"
	taskManager = "4"
)

type clock struct{ t time.Time }

// Now advances one minute per call so every history entry gets a distinct timestamp.
func (c *clock) Now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Clock   *clock
	Store   store.Store
	Metrics *metrics.Recorder
}

func newTestEnv(t *testing.T, s store.Store) testEnv {
	t.Helper()
	ctx := context.Background()
	rec := metrics.NewRecorder()
	r := repo.Repo{Store: s, Log: zerolog.Nop(), Metrics: rec}
	seedUsers, err := config.Default().SeedUsers()
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	dir, err := users.Load(ctx, r, seedUsers, zerolog.Nop())
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	log, err := history.Load(ctx, r, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	log.Now = clk.Now
	holder, err := compliance.Load(ctx, r, seed.MustCompliance(), zerolog.Nop())
	if err != nil {
		t.Fatalf("load compliance: %v", err)
	}
	eng := engine.New(dir, log, holder, rec, zerolog.Nop())
	eng.Now = clk.Now
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, Store: s, Metrics: rec}
}

// mustApply checks an operation result: mustApply(t)(env.Engine.AssignX(...)).
func mustApply(t *testing.T) func(engine.Result, error) engine.Result {
	t.Helper()
	return func(res engine.Result, err error) engine.Result {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Applied {
			t.Fatalf("expected applied, got reason %q", res.Reason)
		}
		return res
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"))
	res, err := env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.Reason != engine.ReasonAlreadyAssigned {
		t.Fatalf("second assign: %+v", res)
	}
	u, _ := env.Engine.Users.Get(accountable)
	if len(u.Permissions.AccountableDomains) != 1 {
		t.Fatalf("expected one domain, got %v", u.Permissions.AccountableDomains)
	}
	if n := len(env.Engine.AllocationHistory()); n != 1 {
		t.Fatalf("expected 1 history entry, got %d", n)
	}
	if got := testutil.ToFloat64(env.Metrics.Operations.WithLabelValues("assign_domain_accountable", metrics.OutcomeNoop)); got != 1 {
		t.Fatalf("noop counter = %v", got)
	}
}

func TestAssignRemoveRoundTrip(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignDomainToManager(env.Ctx, manager, "GDPR"))
	mustApply(t)(env.Engine.RemoveDomainFromManager(env.Ctx, manager, "GDPR"))

	u, _ := env.Engine.Users.Get(manager)
	if len(u.Permissions.ManageableDomains) != 0 {
		t.Fatalf("expected no managed domains, got %v", u.Permissions.ManageableDomains)
	}
	h := env.Engine.UserAllocationHistory(manager)
	if len(h) != 2 || h[0].Action != domain.ActionAssigned || h[1].Action != domain.ActionRemoved {
		t.Fatalf("unexpected history: %+v", h)
	}
	res, err := env.Engine.RemoveDomainFromManager(env.Ctx, manager, "GDPR")
	if err != nil || res.Reason != engine.ReasonNotAssigned {
		t.Fatalf("second remove: %+v %v", res, err)
	}
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	res, err := env.Engine.AssignDomainToAccountable(env.Ctx, manager, "GDPR")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.Reason != engine.ReasonRoleMismatch {
		t.Fatalf("expected role mismatch, got %+v", res)
	}
	res, _ = env.Engine.AssignTaskToManager(env.Ctx, "missing", "GDPR", "Data Mapping & Inventory")
	if res.Reason != engine.ReasonUserNotFound {
		t.Fatalf("expected user not found, got %+v", res)
	}
	if n := len(env.Engine.AllocationHistory()); n != 0 {
		t.Fatalf("rejections must not write history, got %d entries", n)
	}
}

func TestAssignDisplacesPreviousHolder(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	other, err := env.Engine.Users.Add(env.Ctx, domain.User{Name: "Second", Email: "second@example.com", Role: domain.RoleDomainAccountable})
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"))
	res := mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, other.ID, "GDPR"))
	if res.Displaced != accountable {
		t.Fatalf("expected %s displaced, got %q", accountable, res.Displaced)
	}
	h := env.Engine.AllocationHistory()
	if len(h) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(h))
	}
	if h[1].UserID != accountable || h[1].Action != domain.ActionRemoved {
		t.Fatalf("expected removal of previous holder first, got %+v", h[1])
	}
	if h[2].UserID != other.ID || h[2].Action != domain.ActionAssigned {
		t.Fatalf("expected assignment last, got %+v", h[2])
	}
	holders := env.Engine.DomainHolders("GDPR")
	if len(holders.Accountable) != 1 || holders.Accountable[0] != other.ID {
		t.Fatalf("unexpected holders: %+v", holders)
	}
}

func TestTaskManagerBinding(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignTaskToManager(env.Ctx, taskManager, "GDPR", "Data Mapping & Inventory"))
	task, d, ok := env.Engine.Data.FindTask("Data Mapping & Inventory")
	if !ok || d != "GDPR" || task.TaskManagerID != taskManager {
		t.Fatalf("task not bound: %+v in %q", task, d)
	}
	h := env.Engine.UserAllocationHistory(taskManager)
	if len(h) != 1 || h[0].TaskName != "Data Mapping & Inventory" || h[0].DomainName != "GDPR" {
		t.Fatalf("unexpected entry: %+v", h)
	}
	mustApply(t)(env.Engine.RemoveTaskFromManager(env.Ctx, taskManager, "Data Mapping & Inventory"))
	task, _, _ = env.Engine.Data.FindTask("Data Mapping & Inventory")
	if task.TaskManagerID != "" {
		t.Fatalf("binding not cleared: %q", task.TaskManagerID)
	}
}

func TestSessionChecks(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"))
	if env.Engine.IsDomainAccountableFor("GDPR") {
		t.Fatalf("no session yet")
	}
	ok, err := env.Engine.Users.Login(env.Ctx, "accountable@example.com")
	if err != nil || !ok {
		t.Fatalf("login: %v %v", ok, err)
	}
	if !env.Engine.IsDomainAccountableFor("GDPR") {
		t.Fatalf("expected accountable for GDPR")
	}
	if env.Engine.IsDomainManagerFor("GDPR") || env.Engine.IsTaskManagerFor("GDPR") {
		t.Fatalf("checks must follow the session role")
	}
}

// Scenario: assign at T1, assign another at T2, remove the first at T3, then replay.
func TestEndToEndReplay(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"))
	t1 := env.Clock.t
	mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "Environmental Compliance"))
	t2 := env.Clock.t
	mustApply(t)(env.Engine.RemoveDomainFromAccountable(env.Ctx, accountable, "GDPR"))
	t3 := env.Clock.t

	cases := []struct {
		at      time.Time
		domains []string
		manDays float64
		entries int
	}{
		{t1.Add(-time.Second), nil, 0, 0},
		{t1, []string{"GDPR"}, 85, 1},
		{t2, []string{"GDPR", "Environmental Compliance"}, 180, 2},
		{t3, []string{"Environmental Compliance"}, 95, 3},
	}
	for _, tc := range cases {
		s, err := env.Engine.AllocationAt(accountable, tc.at)
		if err != nil {
			t.Fatal(err)
		}
		if !equal(s.Domains, tc.domains) {
			t.Fatalf("at %s: domains %v, want %v", tc.at, s.Domains, tc.domains)
		}
		if s.TotalManDays != tc.manDays {
			t.Fatalf("at %s: man-days %v, want %v", tc.at, s.TotalManDays, tc.manDays)
		}
		if len(s.History) != tc.entries {
			t.Fatalf("at %s: %d entries, want %d", tc.at, len(s.History), tc.entries)
		}
	}
	s, _ := env.Engine.AllocationAt(accountable, t3)
	if s.History[0].Action != domain.ActionRemoved {
		t.Fatalf("history must be newest first: %+v", s.History)
	}
}

func TestTimelineOrder(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"))
	mustApply(t)(env.Engine.AssignDomainToManager(env.Ctx, manager, "Environmental Compliance"))
	rows := env.Engine.Timeline(time.Time{})
	if len(rows) != 4 {
		t.Fatalf("expected 4 users, got %d", len(rows))
	}
	if rows[0].User.ID != manager || rows[1].User.ID != accountable {
		t.Fatalf("unexpected order: %s, %s", rows[0].User.ID, rows[1].User.ID)
	}
	// zero man-day users fall back to name order
	if rows[2].User.Name > rows[3].User.Name {
		t.Fatalf("ties must be ordered by name: %q > %q", rows[2].User.Name, rows[3].User.Name)
	}
}

func TestChangeRoleReleasesAllocations(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignDomainToManager(env.Ctx, manager, "GDPR"))
	mustApply(t)(env.Engine.AssignDomainToManager(env.Ctx, manager, "Environmental Compliance"))
	u, err := env.Engine.ChangeRole(env.Ctx, manager, domain.RoleRegular)
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != domain.RoleRegular || u.Permissions.CanAddItems {
		t.Fatalf("role not applied: %+v", u)
	}
	if len(u.Permissions.ManageableDomains) != 0 {
		t.Fatalf("allocations kept: %v", u.Permissions.ManageableDomains)
	}
	h := env.Engine.UserAllocationHistory(manager)
	if len(h) != 4 || h[2].Action != domain.ActionRemoved || h[3].Action != domain.ActionRemoved {
		t.Fatalf("expected two removals, got %+v", h)
	}
}

func TestDeleteUserKeepsHistory(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	mustApply(t)(env.Engine.AssignTaskToManager(env.Ctx, taskManager, "", "Data Mapping & Inventory"))
	if err := env.Engine.DeleteUser(env.Ctx, taskManager); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Users.Get(taskManager); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if h := env.Engine.UserAllocationHistory(taskManager); len(h) != 1 {
		t.Fatalf("history must survive deletion, got %d entries", len(h))
	}
	task, _, _ := env.Engine.Data.FindTask("Data Mapping & Inventory")
	if task.TaskManagerID != "" {
		t.Fatalf("dangling task binding %q", task.TaskManagerID)
	}
	if _, err := env.Engine.AllocationAt(taskManager, env.Clock.t); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type flakyStore struct {
	*store.Memory
	failKey string
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestHistoryWriteFailureRestoresUser(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory()}
	env := newTestEnv(t, fs)
	fs.failKey = repo.KeyAllocationHistory
	if _, err := env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"); err == nil {
		t.Fatalf("expected persistence error")
	}
	u, _ := env.Engine.Users.Get(accountable)
	if len(u.Permissions.AccountableDomains) != 0 {
		t.Fatalf("user change not rolled back: %v", u.Permissions.AccountableDomains)
	}
	if n := len(env.Engine.AllocationHistory()); n != 0 {
		t.Fatalf("history not rolled back: %d", n)
	}
	if got := testutil.ToFloat64(env.Metrics.PersistFailures.WithLabelValues(repo.KeyAllocationHistory)); got != 1 {
		t.Fatalf("persist failure counter = %v", got)
	}
}

func TestDisplacementIsAllOrNothing(t *testing.T) {
	for _, key := range []string{repo.KeyUsers, repo.KeyAllocationHistory} {
		t.Run(key, func(t *testing.T) {
			fs := &flakyStore{Memory: store.NewMemory()}
			env := newTestEnv(t, fs)
			other, err := env.Engine.Users.Add(env.Ctx, domain.User{Name: "Second", Email: "second@example.com", Role: domain.RoleDomainAccountable})
			if err != nil {
				t.Fatalf("add user: %v", err)
			}
			mustApply(t)(env.Engine.AssignDomainToAccountable(env.Ctx, accountable, "GDPR"))

			fs.failKey = key
			if _, err := env.Engine.AssignDomainToAccountable(env.Ctx, other.ID, "GDPR"); err == nil {
				t.Fatalf("expected persistence error")
			}
			fs.failKey = ""

			holders := env.Engine.DomainHolders("GDPR")
			if len(holders.Accountable) != 1 || holders.Accountable[0] != accountable {
				t.Fatalf("previous holder lost the domain: %+v", holders)
			}
			if n := len(env.Engine.AllocationHistory()); n != 1 {
				t.Fatalf("expected only the first assignment in history, got %d entries", n)
			}
			reopened := newTestEnv(t, fs)
			if h := reopened.Engine.DomainHolders("GDPR"); len(h.Accountable) != 1 || h.Accountable[0] != accountable {
				t.Fatalf("stored holders changed: %+v", h)
			}
		})
	}
}

func TestRestartClearsStaleTaskBinding(t *testing.T) {
	s := store.NewMemory()
	env := newTestEnv(t, s)
	mustApply(t)(env.Engine.AssignTaskToManager(env.Ctx, taskManager, "GDPR", "Security Implementation"))
	if err := env.Engine.Data.Save(env.Ctx); err != nil {
		t.Fatal(err)
	}
	mustApply(t)(env.Engine.RemoveTaskFromManager(env.Ctx, taskManager, "Security Implementation"))

	reopened := newTestEnv(t, s)
	task, _, _ := reopened.Engine.Data.FindTask("Security Implementation")
	if task.TaskManagerID != "" {
		t.Fatalf("saved binding survived removal: %q", task.TaskManagerID)
	}
}

func TestEngineWithoutNew(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	bare := engine.Engine{Users: env.Engine.Users, History: env.Engine.History, Data: env.Engine.Data}
	mustApply(t)(bare.AssignDomainToManager(env.Ctx, manager, "GDPR"))
	mustApply(t)(bare.RemoveDomainFromManager(env.Ctx, manager, "GDPR"))
}

func TestSQLitePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	open := func() store.Store {
		conn, err := db.Open(db.Config{Workspace: dir})
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		if _, err := migrate.Migrate(context.Background(), conn); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return store.SQL{DB: conn}
	}
	env := newTestEnv(t, open())
	mustApply(t)(env.Engine.AssignTaskToManager(env.Ctx, taskManager, "GDPR", "Security Implementation"))

	reopened := newTestEnv(t, open())
	u, err := reopened.Engine.Users.Get(taskManager)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(u.Permissions.ManageableTasks, []string{"Security Implementation"}) {
		t.Fatalf("tasks not persisted: %v", u.Permissions.ManageableTasks)
	}
	if n := len(reopened.Engine.AllocationHistory()); n != 1 {
		t.Fatalf("history not persisted: %d", n)
	}
	task, _, _ := reopened.Engine.Data.FindTask("Security Implementation")
	if task.TaskManagerID != taskManager {
		t.Fatalf("binding not rebuilt on load: %q", task.TaskManagerID)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
