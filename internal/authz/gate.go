package authz

import "errors"

var (
	// ErrUnauthenticated signals that no identity could be resolved. It is a
	// distinct failure from ErrForbidden so clients can tell "log in" apart
	// from "no access".
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrForbidden signals a valid identity without access. The message is
	// deliberately generic; it must not leak whether the target exists.
	ErrForbidden = errors.New("authz: forbidden")
)

// Decision is the outcome of one authorization check. When Allowed is true
// the caller must thread Scope into every query it issues for the request.
type Decision struct {
	Allowed bool
	Level   AccessLevel
	Scope   Scope
}

// CanWrite reports whether the decision permits mutating operations.
func (d Decision) CanWrite() bool {
	return d.Allowed && d.Level.CanWrite()
}

// CanDelete reports whether the decision permits destructive operations.
func (d Decision) CanDelete() bool {
	return d.Allowed && d.Level.CanDelete()
}

// LogFields flattens the decision for structured audit logging.
func (d Decision) LogFields() map[string]any {
	return map[string]any{
		"allowed":      d.Allowed,
		"access_level": string(d.Level),
		"scope_kind":   string(d.Scope.Kind),
	}
}

// Gate is the single enforcement point. It is a pure function of its inputs
// against the immutable matrix; any number of requests may call it
// concurrently.
type Gate struct {
	matrix *Matrix
}

// NewGate wraps a validated matrix.
func NewGate(matrix *Matrix) *Gate {
	return &Gate{matrix: matrix}
}

// Authorize evaluates the identity against the menu. A zero-value identity
// (empty role) is treated as unauthenticated before any matrix lookup.
func (g *Gate) Authorize(id Identity, menu Menu) (Decision, error) {
	if id.Role == "" {
		return Decision{}, ErrUnauthenticated
	}
	level := g.matrix.AccessLevel(id.Role, menu)
	if level == NoAccess {
		return Decision{Allowed: false, Level: NoAccess, Scope: Scope{Kind: ScopeNone}}, ErrForbidden
	}
	return Decision{Allowed: true, Level: level, Scope: scopeFor(level, id)}, nil
}

// AllowedMenus proxies the matrix for navigation surfaces.
func (g *Gate) AllowedMenus(role Role) []Menu {
	return g.matrix.AllowedMenus(role)
}

// CanWrite proxies the matrix write check for workflow gating.
func (g *Gate) CanWrite(role Role, menu Menu) bool {
	return g.matrix.CanWrite(role, menu)
}
