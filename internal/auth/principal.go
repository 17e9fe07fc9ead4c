package auth

import "fmt"

type PrincipalType string

const (
	PrincipalHuman PrincipalType = "human"
	PrincipalBot   PrincipalType = "bot"
)

// Principal is a resolved actor: a human backed by a session, or a bot
// backed by an API token. The variant is the Type tag; OwnerID and
// Permissions are only meaningful for bots.
type Principal struct {
	ID          string
	Username    string
	FullName    string
	Type        PrincipalType
	TeamID      *string
	OwnerID     string
	Permissions CapabilitySet
}

// EffectiveTeamID is the principal's team scope. For bots it is the owning
// human's team, resolved at authentication time.
func (p Principal) EffectiveTeamID() *string {
	return p.TeamID
}

// EffectivePermissions returns the capability set the authorizer consults.
// Humans carry the full set.
func (p Principal) EffectivePermissions() CapabilitySet {
	if p.Type == PrincipalHuman {
		full := CapabilitySet{}
		for c := range allCapabilities {
			full[c] = struct{}{}
		}
		return full
	}
	return p.Permissions
}

// Allowed is the authorization gate. Humans are always allowed; team and
// ownership scoping happens in query filters, not here. Bots need admin or
// the specific capability.
func Allowed(p Principal, c Capability) bool {
	if p.Type == PrincipalHuman {
		return true
	}
	return p.Permissions.Has(CapAdmin) || p.Permissions.Has(c)
}

// Require returns a ForbiddenError when the principal lacks the capability.
func Require(p Principal, c Capability) error {
	if Allowed(p, c) {
		return nil
	}
	return ForbiddenError{Capability: c}
}

// ForbiddenError indicates a known principal lacking a capability. Distinct
// from authentication failure.
type ForbiddenError struct {
	Capability Capability
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}
