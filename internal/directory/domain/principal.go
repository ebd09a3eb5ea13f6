package domain

import (
	"errors"
	"time"

	permdomain "trustlayer/internal/permission/domain"
)

// UserStatus is the directory status of a user.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is a directory entry with the attributes business conditions use.
type User struct {
	ID             string
	Email          string
	Name           string
	Phone          string // MFA delivery target for SMS and voice methods
	Status         UserStatus
	Department     string
	HiredAt        *time.Time
	Certifications []string
	Trainings      []string
	CreatedAt      time.Time
}

// Validate validates the user for persistence.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// SeniorityMonths returns the number of whole months between HiredAt and now.
func (u *User) SeniorityMonths(now time.Time) int {
	if u.HiredAt == nil || now.Before(*u.HiredAt) {
		return 0
	}
	h := u.HiredAt.UTC()
	n := now.UTC()
	months := (n.Year()-h.Year())*12 + int(n.Month()-h.Month())
	if n.Day() < h.Day() {
		months--
	}
	return max(months, 0)
}

// Role is a named bundle of grants. ParentID links a role to the role it inherits from.
type Role struct {
	ID       string
	Name     string
	ParentID string
}

// InheritedRole is an ancestor role reached from an assigned role.
// Chain runs from the assigned role to RoleID inclusive.
type InheritedRole struct {
	RoleID string
	Chain  []string
}

// Principal is the resolved view of a user used for authorization.
type Principal struct {
	ID             string
	Status         UserStatus
	Roles          []string
	InheritedRoles []InheritedRole
	Groups         []string
	Profile        permdomain.Profile
}

// Active reports whether the principal may hold permissions at all.
func (p *Principal) Active() bool { return p.Status == "" || p.Status == UserStatusActive }

// MaxRoleDepth bounds role inheritance walks.
const MaxRoleDepth = 16

// Ancestors walks parent links from each assigned role. parent returns "" at the root.
// Cycles and chains deeper than MaxRoleDepth are cut.
func Ancestors(assigned []string, parent func(roleID string) (string, error)) ([]InheritedRole, error) {
	var out []InheritedRole
	held := make(map[string]bool, len(assigned))
	for _, r := range assigned {
		held[r] = true
	}
	seenAncestor := map[string]bool{}
	for _, root := range assigned {
		chain := []string{root}
		visited := map[string]bool{root: true}
		cur := root
		for depth := 0; depth < MaxRoleDepth; depth++ {
			p, err := parent(cur)
			if err != nil {
				return nil, err
			}
			if p == "" || visited[p] {
				break
			}
			visited[p] = true
			chain = append(chain, p)
			if !held[p] && !seenAncestor[p] {
				seenAncestor[p] = true
				out = append(out, InheritedRole{RoleID: p, Chain: append([]string(nil), chain...)})
			}
			cur = p
		}
	}
	return out, nil
}
