// Package projection rewinds the compliance hierarchy to what existed at a given instant.
package projection

import (
	"time"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
)

// At returns a copy of data without the domains, tasks and subtasks created after cutoff.
// Each level is filtered on its own createdAt; a node without a parseable createdAt is kept.
func At(data domain.ComplianceData, cutoff time.Time) domain.ComplianceData {
	out := domain.ComplianceData{Regulations: domain.Regulations{Description: data.Regulations.Description}}
	if data.Regulations.Domains == nil {
		return out
	}
	out.Regulations.Domains = make([]domain.Domain, 0, len(data.Regulations.Domains))
	for _, d := range data.Regulations.Domains {
		if createdAfter(d.CreatedAt, cutoff) {
			continue
		}
		d = d.Clone()
		if d.Tasks != nil {
			tasks := make([]domain.Task, 0, len(d.Tasks))
			for _, t := range d.Tasks {
				if createdAfter(t.CreatedAt, cutoff) {
					continue
				}
				if t.Subtasks != nil {
					subs := make([]domain.SubTask, 0, len(t.Subtasks))
					for _, s := range t.Subtasks {
						if !createdAfter(s.CreatedAt, cutoff) {
							subs = append(subs, s)
						}
					}
					t.Subtasks = subs
				}
				tasks = append(tasks, t)
			}
			d.Tasks = tasks
		}
		out.Regulations.Domains = append(out.Regulations.Domains, d)
	}
	return out
}

func createdAfter(createdAt string, cutoff time.Time) bool {
	if createdAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return false
	}
	return t.After(cutoff)
}
