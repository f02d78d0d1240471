// Package compliance guards the shared regulation hierarchy document.
package compliance

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
)

// Holder owns the current compliance document. Task-manager bindings change it in memory;
// only Save and Replace write it to the store.
type Holder struct {
	mu    sync.RWMutex
	data  domain.ComplianceData
	saved bool
	repo  repo.Repo
	log   zerolog.Logger
}

// Load uses the saved snapshot when one exists, else fallback.
func Load(ctx context.Context, r repo.Repo, fallback domain.ComplianceData, log zerolog.Logger) (*Holder, error) {
	data, saved, err := r.LoadComplianceData(ctx, fallback)
	if err != nil {
		return nil, err
	}
	return &Holder{data: data, saved: saved, repo: r, log: log}, nil
}

// Snapshot returns a deep copy of the current document.
func (h *Holder) Snapshot() domain.ComplianceData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data.Clone()
}

// Saved reports whether the document came from, or was written to, the store.
func (h *Holder) Saved() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.saved
}

func (h *Holder) Save(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.repo.SaveComplianceData(ctx, h.data); err != nil {
		return err
	}
	h.saved = true
	return nil
}

// Replace swaps in a new document and saves it. The old document stays if the write fails.
func (h *Holder) Replace(ctx context.Context, data domain.ComplianceData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	data = data.Clone()
	if err := h.repo.SaveComplianceData(ctx, data); err != nil {
		return err
	}
	h.data = data
	h.saved = true
	h.log.Info().Int("domains", len(data.Regulations.Domains)).Msg("compliance document replaced")
	return nil
}

func (h *Holder) FindDomain(name string) (domain.Domain, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return FindDomain(h.data, name)
}

// FindTask returns the first task with this name in document order, with its domain name.
func (h *Holder) FindTask(name string) (domain.Task, string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return FindTask(h.data, name)
}

// SetTaskManager binds userID to the task. An empty domainName matches the task in any domain.
// It reports whether a task was found.
func (h *Holder) SetTaskManager(domainName, taskName, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for di := range h.data.Regulations.Domains {
		d := &h.data.Regulations.Domains[di]
		if domainName != "" && d.Name != domainName {
			continue
		}
		for ti := range d.Tasks {
			if d.Tasks[ti].Name == taskName {
				d.Tasks[ti].TaskManagerID = userID
				return true
			}
		}
	}
	return false
}

// ClearTaskManager unbinds userID from every task with this name. Tasks bound to someone
// else are left alone.
func (h *Holder) ClearTaskManager(taskName, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clear(func(t domain.Task) bool { return t.Name == taskName && t.TaskManagerID == userID })
}

// ClearTaskManagerRefs removes every binding that points at userID.
func (h *Holder) ClearTaskManagerRefs(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clear(func(t domain.Task) bool { return t.TaskManagerID == userID })
}

// Rebind makes the task-manager bindings match bindings (task name to user id). Bindings to
// anyone not listed for that task are cleared first, including ones loaded from a saved snapshot.
func (h *Holder) Rebind(bindings map[string]string) (cleared int) {
	h.mu.Lock()
	cleared = h.clear(func(t domain.Task) bool { return bindings[t.Name] != t.TaskManagerID })
	h.mu.Unlock()
	for task, userID := range bindings {
		h.SetTaskManager("", task, userID)
	}
	return cleared
}

func (h *Holder) clear(match func(domain.Task) bool) int {
	n := 0
	for di := range h.data.Regulations.Domains {
		tasks := h.data.Regulations.Domains[di].Tasks
		for ti := range tasks {
			if tasks[ti].TaskManagerID != "" && match(tasks[ti]) {
				tasks[ti].TaskManagerID = ""
				n++
			}
		}
	}
	return n
}

func FindDomain(data domain.ComplianceData, name string) (domain.Domain, bool) {
	for _, d := range data.Regulations.Domains {
		if d.Name == name {
			return d.Clone(), true
		}
	}
	return domain.Domain{}, false
}

func FindTask(data domain.ComplianceData, name string) (domain.Task, string, bool) {
	for _, d := range data.Regulations.Domains {
		for _, t := range d.Tasks {
			if t.Name == name {
				return t.Clone(), d.Name, true
			}
		}
	}
	return domain.Task{}, "", false
}

// ManDays sums the domain estimates of domains plus the task estimates of tasks. Unknown
// names count zero.
func ManDays(data domain.ComplianceData, domains, tasks []string) float64 {
	var total float64
	for _, name := range domains {
		if d, ok := FindDomain(data, name); ok {
			total += d.ManDayCost
		}
	}
	for _, name := range tasks {
		if t, _, ok := FindTask(data, name); ok {
			total += t.ManDayCost
		}
	}
	return total
}

// TotalManDays is the sum of every domain estimate in the document.
func TotalManDays(data domain.ComplianceData) float64 {
	var total float64
	for _, d := range data.Regulations.Domains {
		total += d.ManDayCost
	}
	return total
}
