package history

import (
	"sort"
	"time"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
)

// Allocation is the set of names a user held at one instant, in first-assigned order.
type Allocation struct {
	AccountableDomains []string `json:"accountableDomains"`
	ManagedDomains     []string `json:"managedDomains"`
	ManagedTasks       []string `json:"managedTasks"`
}

// ParseTime accepts any RFC 3339 timestamp, with or without fractional seconds.
func ParseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type timed struct {
	at time.Time
	e  domain.AllocationHistoryEntry
}

// until keeps parseable entries at or before asOf, sorted oldest first. Ties keep log order.
func until(entries []domain.AllocationHistoryEntry, asOf time.Time) []timed {
	out := make([]timed, 0, len(entries))
	for _, e := range entries {
		at, ok := ParseTime(e.Timestamp)
		if !ok || at.After(asOf) {
			continue
		}
		out = append(out, timed{at: at, e: e})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// Replay folds entries up to asOf into the resulting allocation. Callers pass one user's
// entries; entries with an unknown role are ignored.
func Replay(entries []domain.AllocationHistoryEntry, asOf time.Time) Allocation {
	var a Allocation
	for _, te := range until(entries, asOf) {
		var set *[]string
		switch te.e.Role {
		case domain.AllocDomainAccountable:
			set = &a.AccountableDomains
		case domain.AllocDomainManager:
			set = &a.ManagedDomains
		case domain.AllocTaskManager:
			set = &a.ManagedTasks
		default:
			continue
		}
		name := te.e.Subject()
		if name == "" {
			continue
		}
		switch te.e.Action {
		case domain.ActionAssigned:
			*set = addName(*set, name)
		case domain.ActionRemoved:
			*set = removeName(*set, name)
		}
	}
	return a
}

// Until returns the entries at or before asOf, newest first.
func Until(entries []domain.AllocationHistoryEntry, asOf time.Time) []domain.AllocationHistoryEntry {
	ts := until(entries, asOf)
	out := make([]domain.AllocationHistoryEntry, len(ts))
	for i, te := range ts {
		out[len(ts)-1-i] = te.e
	}
	return out
}

func addName(set []string, name string) []string {
	for _, s := range set {
		if s == name {
			return set
		}
	}
	return append(set, name)
}

func removeName(set []string, name string) []string {
	out := set[:0]
	for _, s := range set {
		if s != name {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
