package rbac

import (
	"encoding/json"
)

// Roles in ascending privilege order.
const (
	RoleViewer    = "viewer"
	RoleModerator = "moderator"
	RoleTAndS     = "tands"
	RoleOperator  = "operator"
	RoleAdmin     = "admin"
)

// Resources the back-office gates access to.
const (
	ResourceModeration  = "moderation"
	ResourceAudit       = "audit"
	ResourceUsers       = "users"
	ResourceTribes      = "tribes"
	ResourceLeaderboard = "leaderboard"
	ResourceConfig      = "config"
	ResourceFraud       = "fraud"
	ResourceAll         = "*"
)

// Actions.
const (
	ActionRead          = "read"
	ActionWrite         = "write"
	ActionAssign        = "assign"
	ActionDecide        = "decide"
	ActionEscalate      = "escalate"
	ActionResolveAppeal = "resolve_appeal"
	ActionReverse       = "reverse"
)

// Override is an explicit per-principal permission grant. When an override
// exists for a resource it decides the outcome for that resource entirely:
// the action must be listed (or the resource be "*") for the call to pass.
type Override struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// ParseOverrides decodes the jsonb permissions column of an admin account.
// Malformed data yields no overrides rather than an error; resolution then
// falls through to the role matrix.
func ParseOverrides(raw []byte) []Override {
	if len(raw) == 0 {
		return nil
	}
	var overrides []Override
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil
	}
	return overrides
}

// HasPermission resolves (role, overrides, resource, action) to allow/deny.
// Resolution order: admin role or a "*" override allows everything; an
// explicit override for the resource decides by listed actions; otherwise the
// role matrix decides; anything unmatched is denied.
func HasPermission(role string, overrides []Override, resource, action string) bool {
	if role == RoleAdmin {
		return true
	}
	for _, o := range overrides {
		if o.Resource == ResourceAll {
			return true
		}
	}
	for _, o := range overrides {
		if o.Resource == resource {
			for _, a := range o.Actions {
				if a == action || a == ResourceAll {
					return true
				}
			}
			return false
		}
	}
	actions, ok := matrix[role][resource]
	if !ok {
		return false
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
