package domain

// SubjectKind is the kind of holder a grant is attached to.
type SubjectKind string

const (
	SubjectUser  SubjectKind = "USER"
	SubjectRole  SubjectKind = "ROLE"
	SubjectGroup SubjectKind = "GROUP"
)

// Subject identifies the holder of stored grants.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// SubjectOf returns the holder a stored grant belongs to, derived from its source.
func SubjectOf(g Grant) Subject {
	switch g.Source.Type {
	case SourceRole, SourceInherited:
		return Subject{Kind: SubjectRole, ID: g.PrincipalID}
	case SourceGroup:
		return Subject{Kind: SubjectGroup, ID: g.PrincipalID}
	default:
		return Subject{Kind: SubjectUser, ID: g.PrincipalID}
	}
}

// Holds reports whether a stored grant belongs to s.
func (s Subject) Holds(g Grant) bool {
	return g.PrincipalID == s.ID && SubjectOf(g).Kind == s.Kind
}
