package authz

import "strings"

// ScopeKind names the row-filtering shape a repository must apply.
type ScopeKind string

const (
	// ScopeNone forbids touching any row.
	ScopeNone ScopeKind = "none"
	// ScopeAll imposes no row filter.
	ScopeAll ScopeKind = "all"
	// ScopeOwner filters rows to owner_id = OwnerID.
	ScopeOwner ScopeKind = "owner"
	// ScopeTeam filters rows to the owner or any subordinate of TeamLeadID.
	ScopeTeam ScopeKind = "team"
	// ScopeDepartment filters rows to dept_code = DeptCode and masks the
	// fields listed in MaskedFields on the way out.
	ScopeDepartment ScopeKind = "department"
	// ScopeCustomer filters rows to customers assigned to OwnerID.
	ScopeCustomer ScopeKind = "customer"
	// ScopeSLAAggregate exposes SLA aggregates only, never full records.
	ScopeSLAAggregate ScopeKind = "sla_aggregate"
	// ScopeARSummary exposes AR/DSO summary figures only.
	ScopeARSummary ScopeKind = "ar_summary"
)

// maskedCustomerFields are redacted for department-masked access.
var maskedCustomerFields = []string{"customer_name", "customer_contact"}

// Scope is the concrete row filter derived from an access level and an
// identity. It is passed as data to the repository layer, which requires a
// Scope argument on every scoped query; there is no boolean to forget.
type Scope struct {
	Kind         ScopeKind
	OwnerID      int64
	TeamLeadID   int64
	DeptCode     string
	MaskedFields []string
}

// scopeFor derives the scope predicate for a level, parameterised with the
// requesting identity.
func scopeFor(level AccessLevel, id Identity) Scope {
	switch level {
	case NoAccess:
		return Scope{Kind: ScopeNone}
	case Read, ReadAll, ReadWrite, ReadWriteAssist, Admin:
		return Scope{Kind: ScopeAll}
	case ReadOwn, ReadWriteOwn:
		return Scope{Kind: ScopeOwner, OwnerID: id.UserID}
	case ReadTeam:
		return Scope{Kind: ScopeTeam, TeamLeadID: id.UserID}
	case ReadScoped:
		return Scope{Kind: ScopeCustomer, OwnerID: id.UserID}
	case ReadSlaOnly:
		return Scope{Kind: ScopeSLAAggregate}
	case ReadArDsoSummary:
		return Scope{Kind: ScopeARSummary}
	case ReadWriteDeptMasked:
		return Scope{
			Kind:         ScopeDepartment,
			DeptCode:     id.DeptCode,
			MaskedFields: maskedCustomerFields,
		}
	default:
		return Scope{Kind: ScopeNone}
	}
}

// Masks reports whether field must be redacted under this scope.
func (s Scope) Masks(field string) bool {
	for _, f := range s.MaskedFields {
		if f == field {
			return true
		}
	}
	return false
}

// AggregateOnly reports whether the scope forbids row-level reads entirely.
func (s Scope) AggregateOnly() bool {
	return s.Kind == ScopeSLAAggregate || s.Kind == ScopeARSummary
}

// MaskValue redacts a sensitive value keeping only the first rune of each
// word, e.g. "Pelita Samudra" becomes "P***** S******".
func MaskValue(v string) string {
	if v == "" {
		return ""
	}
	words := strings.Fields(v)
	for i, w := range words {
		runes := []rune(w)
		masked := make([]rune, len(runes))
		masked[0] = runes[0]
		for j := 1; j < len(runes); j++ {
			masked[j] = '*'
		}
		words[i] = string(masked)
	}
	return strings.Join(words, " ")
}
