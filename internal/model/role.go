package model

// Role is the authorization tier carried in a JWT or resolved from an API key.
// There is no per-agent or per-org grant model in bug dedup: access is gated
// purely by role, and attribution (who submitted, who reviewed) travels as a
// free-text actor string in the request body rather than as an identity
// resolved from the token.
type Role string

const (
	// RoleSubmitter is the default for anonymous and authenticated callers
	// alike: submit bugs, read bugs, search.
	RoleSubmitter Role = "submitter"
	// RoleQA can promote/reclassify bugs and review the low-quality queue.
	RoleQA Role = "qa"
	// RoleAdmin can do everything QA can, plus issue tokens for other
	// principals.
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{
	RoleSubmitter: 0,
	RoleQA:        1,
	RoleAdmin:     2,
}

// RoleAtLeast reports whether role meets or exceeds min in the role hierarchy.
// An unrecognized role ranks below RoleSubmitter.
func RoleAtLeast(role, min Role) bool {
	r, ok := roleRank[role]
	if !ok {
		return false
	}
	return r >= roleRank[min]
}
