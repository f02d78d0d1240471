package engine

import (
	"sort"
	"time"

	"github.com/imeapplication/regulatory-patrol/internal/compliance"
	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/history"
)

// IsDomainAccountableFor reports whether the session user is a Domain Accountable holding name.
func (e Engine) IsDomainAccountableFor(name string) bool {
	return e.sessionHolds(accountableScope, name)
}

func (e Engine) IsDomainManagerFor(name string) bool {
	return e.sessionHolds(managerScope, name)
}

func (e Engine) IsTaskManagerFor(name string) bool {
	return e.sessionHolds(taskScope, name)
}

func (e Engine) sessionHolds(s scope, name string) bool {
	u, ok := e.Users.Current()
	if !ok || u.Role != s.role.UserRole() {
		return false
	}
	return s.holds(u, name)
}

func (e Engine) AllocationHistory() []domain.AllocationHistoryEntry {
	return e.History.All()
}

func (e Engine) UserAllocationHistory(userID string) []domain.AllocationHistoryEntry {
	return e.History.ForUser(userID)
}

// AllocationSummary is what a user held at AsOf according to the history log.
type AllocationSummary struct {
	User         domain.User                     `json:"user"`
	AsOf         string                          `json:"asOf"`
	Domains      []string                        `json:"domains"`
	Tasks        []string                        `json:"tasks"`
	TotalManDays float64                         `json:"totalManDays"`
	History      []domain.AllocationHistoryEntry `json:"history"`
}

// AllocationAt replays the user's history up to asOf. Which sets are reported depends on the
// user's current role; man-days are taken from the current hierarchy.
func (e Engine) AllocationAt(userID string, asOf time.Time) (AllocationSummary, error) {
	u, err := e.Users.Get(userID)
	if err != nil {
		return AllocationSummary{}, err
	}
	return e.summarize(u, e.Data.Snapshot(), asOf), nil
}

func (e Engine) summarize(u domain.User, data domain.ComplianceData, asOf time.Time) AllocationSummary {
	entries := e.History.ForUser(u.ID)
	alloc := history.Replay(entries, asOf)
	s := AllocationSummary{
		User:    u,
		AsOf:    asOf.UTC().Format(history.TimeFormat),
		History: history.Until(entries, asOf),
	}
	switch u.Role {
	case domain.RoleDomainAccountable:
		s.Domains = alloc.AccountableDomains
	case domain.RoleDomainManager:
		s.Domains = alloc.ManagedDomains
	case domain.RoleTaskManager:
		s.Tasks = alloc.ManagedTasks
	}
	s.TotalManDays = compliance.ManDays(data, s.Domains, s.Tasks)
	return s
}

// Timeline summarizes every user at asOf, heaviest allocation first. A zero asOf means now.
func (e Engine) Timeline(asOf time.Time) []AllocationSummary {
	if asOf.IsZero() {
		asOf = e.now()
	}
	data := e.Data.Snapshot()
	list := e.Users.List()
	out := make([]AllocationSummary, 0, len(list))
	for _, u := range list {
		out = append(out, e.summarize(u, data, asOf))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalManDays != out[j].TotalManDays {
			return out[i].TotalManDays > out[j].TotalManDays
		}
		return out[i].User.Name < out[j].User.Name
	})
	return out
}

// Holders names the users currently allocated to a domain.
type Holders struct {
	Domain      string   `json:"domain"`
	Accountable []string `json:"accountable"`
	Managers    []string `json:"managers"`
}

func (e Engine) DomainHolders(domainName string) Holders {
	h := Holders{Domain: domainName}
	for _, u := range e.Users.List() {
		if accountableScope.holds(u, domainName) {
			h.Accountable = append(h.Accountable, u.ID)
		}
		if managerScope.holds(u, domainName) {
			h.Managers = append(h.Managers, u.ID)
		}
	}
	return h
}
