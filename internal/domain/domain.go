package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdministrator     Role = "Administrator"
	RoleDomainAccountable Role = "Domain Accountable"
	RoleDomainManager     Role = "Domain Manager"
	RoleTaskManager       Role = "Task Manager"
	RoleRegular           Role = "Regular"
)

// Roles lists every user role in display order.
var Roles = []Role{RoleAdministrator, RoleDomainAccountable, RoleDomainManager, RoleTaskManager, RoleRegular}

// ParseRole accepts the persisted form ("Domain Manager") and the compact form ("DomainManager"),
// case-insensitively.
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(strings.Join(strings.Fields(s), ""))
	for _, r := range Roles {
		if strings.ToLower(strings.ReplaceAll(string(r), " ", "")) == key {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", s)
}

type Permissions struct {
	CanAddItems        bool     `json:"canAddItems"`
	CanModifyItems     bool     `json:"canModifyItems"`
	CanDeleteItems     bool     `json:"canDeleteItems"`
	CanAssignRoles     bool     `json:"canAssignRoles"`
	CanViewReports     bool     `json:"canViewReports"`
	AccountableDomains []string `json:"accountableDomains,omitempty"`
	ManageableDomains  []string `json:"manageableDomains,omitempty"`
	ManageableTasks    []string `json:"manageableTasks,omitempty"`
}

// RolePermissions returns the capability flags fixed for a role. Allocation sets are left empty.
func RolePermissions(r Role) Permissions {
	switch r {
	case RoleAdministrator:
		return Permissions{CanAddItems: true, CanModifyItems: true, CanDeleteItems: true, CanAssignRoles: true, CanViewReports: true}
	case RoleDomainAccountable:
		return Permissions{CanModifyItems: true, CanViewReports: true}
	case RoleDomainManager:
		return Permissions{CanAddItems: true, CanModifyItems: true, CanDeleteItems: true, CanViewReports: true}
	case RoleTaskManager:
		return Permissions{CanModifyItems: true, CanViewReports: true}
	default:
		return Permissions{CanViewReports: true}
	}
}

// WithRoleFlags keeps the allocation sets of p and replaces the capability flags with the role's.
func (p Permissions) WithRoleFlags(r Role) Permissions {
	out := RolePermissions(r)
	out.AccountableDomains = p.AccountableDomains
	out.ManageableDomains = p.ManageableDomains
	out.ManageableTasks = p.ManageableTasks
	return out
}

// Clone returns a copy that shares no slices with p.
func (p Permissions) Clone() Permissions {
	out := p
	out.AccountableDomains = cloneStrings(p.AccountableDomains)
	out.ManageableDomains = cloneStrings(p.ManageableDomains)
	out.ManageableTasks = cloneStrings(p.ManageableTasks)
	return out
}

type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

func (u User) Clone() User {
	u.Permissions = u.Permissions.Clone()
	return u
}

// AllocationRole is the role scope recorded on allocation history entries.
type AllocationRole string

const (
	AllocDomainAccountable AllocationRole = "DomainAccountable"
	AllocDomainManager     AllocationRole = "DomainManager"
	AllocTaskManager       AllocationRole = "TaskManager"
)

// UserRole maps an allocation scope to the user role allowed to hold it.
func (a AllocationRole) UserRole() Role {
	switch a {
	case AllocDomainAccountable:
		return RoleDomainAccountable
	case AllocDomainManager:
		return RoleDomainManager
	case AllocTaskManager:
		return RoleTaskManager
	}
	return ""
}

type AllocationAction string

const (
	ActionAssigned AllocationAction = "assigned"
	ActionRemoved  AllocationAction = "removed"
)

type AllocationHistoryEntry struct {
	UserID     string           `json:"userId"`
	DomainName string           `json:"domainName,omitempty"`
	TaskName   string           `json:"taskName,omitempty"`
	Action     AllocationAction `json:"action"`
	Timestamp  string           `json:"timestamp"`
	Role       AllocationRole   `json:"role"`
}

// Subject returns the name the entry is about: the task for TaskManager entries, the domain otherwise.
func (e AllocationHistoryEntry) Subject() string {
	if e.Role == AllocTaskManager {
		return e.TaskName
	}
	return e.DomainName
}

type SubTask struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ManDayCost  float64  `json:"man_day_cost"`
	Role        []string `json:"role"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

type Task struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	ManDayCost    float64   `json:"man_day_cost"`
	Roles         []string  `json:"roles"`
	Subtasks      []SubTask `json:"subtasks"`
	TaskManagerID string    `json:"taskManagerId,omitempty"`
	CreatedAt     string    `json:"createdAt,omitempty"`
	UpdatedAt     string    `json:"updatedAt,omitempty"`
}

type Domain struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	ManDayCost      float64 `json:"man_day_cost"`
	AccountableRole string  `json:"accountableRole,omitempty"`
	ManagerRole     string  `json:"managerRole,omitempty"`
	Tasks           []Task  `json:"tasks"`
	CreatedAt       string  `json:"createdAt,omitempty"`
	UpdatedAt       string  `json:"updatedAt,omitempty"`
}

type Regulations struct {
	Description string   `json:"description"`
	Domains     []Domain `json:"domains"`
}

type ComplianceData struct {
	Regulations Regulations `json:"regulations"`
}

// Clone deep-copies the whole hierarchy.
func (c ComplianceData) Clone() ComplianceData {
	out := ComplianceData{Regulations: Regulations{Description: c.Regulations.Description}}
	if c.Regulations.Domains == nil {
		return out
	}
	out.Regulations.Domains = make([]Domain, len(c.Regulations.Domains))
	for i, d := range c.Regulations.Domains {
		out.Regulations.Domains[i] = d.Clone()
	}
	return out
}

func (d Domain) Clone() Domain {
	out := d
	if d.Tasks != nil {
		out.Tasks = make([]Task, len(d.Tasks))
		for i, t := range d.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	return out
}

func (t Task) Clone() Task {
	out := t
	out.Roles = cloneStrings(t.Roles)
	if t.Subtasks != nil {
		out.Subtasks = make([]SubTask, len(t.Subtasks))
		for i, s := range t.Subtasks {
			s.Role = cloneStrings(s.Role)
			out.Subtasks[i] = s
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
