package resolver

import "trustlayer/internal/permission/domain"

// Summary counts a principal's effective permissions.
type Summary struct {
	Total      int
	Granted    int
	Restricted int
	ByResource map[string]int
	ByLevel    map[domain.AccessLevel]int
	BySource   map[domain.SourceType]int
}

// Summarize aggregates effective permissions by resource, level and source.
func Summarize(perms []domain.EffectivePermission) Summary {
	s := Summary{
		ByResource: map[string]int{},
		ByLevel:    map[domain.AccessLevel]int{},
		BySource:   map[domain.SourceType]int{},
	}
	for _, p := range perms {
		s.Total++
		s.ByResource[p.Resource]++
		s.ByLevel[p.Level]++
		if p.Level != domain.Blocked {
			s.Granted++
		}
		if p.Restricted {
			s.Restricted++
		}
		if p.Source != nil {
			s.BySource[p.Source.Type]++
		}
	}
	return s
}
