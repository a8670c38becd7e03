package authz

// AccessLevel tags a (role, menu) cell with both whether access exists and
// which rows the holder may see or mutate. The tag is a contract, not a label:
// repositories receive the scope derived from it and must apply it.
type AccessLevel string

const (
	// NoAccess hides the menu entirely.
	NoAccess AccessLevel = "NA"
	// Read grants read over every row in the menu's domain.
	Read AccessLevel = "R"
	// ReadAll grants read over every row and every sub-scope (director oversight).
	ReadAll AccessLevel = "R_ALL"
	// ReadOwn restricts reads to rows owned by the identity.
	ReadOwn AccessLevel = "R_OWN"
	// ReadTeam restricts reads to rows owned by the identity or its subordinates.
	ReadTeam AccessLevel = "R_TEAM"
	// ReadSlaOnly grants read over SLA/response-time aggregates only.
	ReadSlaOnly AccessLevel = "R_SLA"
	// ReadArDsoSummary grants read over aggregate AR/DSO summary figures only.
	ReadArDsoSummary AccessLevel = "R_AR_DSO_SUMMARY"
	// ReadScoped restricts reads to rows whose customer is assigned to the identity.
	ReadScoped AccessLevel = "R_SCOPED"
	// ReadWrite grants full read and write over the menu.
	ReadWrite AccessLevel = "RW"
	// ReadWriteOwn grants read and write over rows owned by the identity.
	ReadWriteOwn AccessLevel = "RW_OWN"
	// ReadWriteAssist grants read and write without ownership restriction but
	// excludes destructive operations.
	ReadWriteAssist AccessLevel = "RW_ASSIST"
	// ReadWriteDeptMasked grants read and write within the identity's department
	// with sensitive customer fields masked in responses.
	ReadWriteDeptMasked AccessLevel = "RW_DEPT_MASKED"
	// Admin grants every operation including destructive ones.
	Admin AccessLevel = "ADMIN"
)

// AllAccessLevels lists the complete tag vocabulary.
func AllAccessLevels() []AccessLevel {
	return []AccessLevel{
		NoAccess,
		Read,
		ReadAll,
		ReadOwn,
		ReadTeam,
		ReadSlaOnly,
		ReadArDsoSummary,
		ReadScoped,
		ReadWrite,
		ReadWriteOwn,
		ReadWriteAssist,
		ReadWriteDeptMasked,
		Admin,
	}
}

// CanRead reports whether the level grants any read access at all.
func (l AccessLevel) CanRead() bool {
	return l != NoAccess
}

// CanWrite reports whether the level grants mutating access. Only the
// ReadWrite family and Admin do; every other tag is read-only regardless of
// what it exposes.
func (l AccessLevel) CanWrite() bool {
	switch l {
	case ReadWrite, ReadWriteOwn, ReadWriteAssist, ReadWriteDeptMasked, Admin:
		return true
	default:
		return false
	}
}

// CanDelete reports whether the level permits destructive operations.
// Assist and scoped writers mutate but never delete.
func (l AccessLevel) CanDelete() bool {
	return l == ReadWrite || l == Admin
}
