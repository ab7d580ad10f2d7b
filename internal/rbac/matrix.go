package rbac

import (
	"encoding/json"
	"fmt"
	"os"
)

// Matrix maps role -> resource -> allowed actions. Declarative so a new role
// or resource is a data change, not a code change.
type Matrix map[string]map[string][]string

var matrix = defaultMatrix()

func defaultMatrix() Matrix {
	return Matrix{
		RoleViewer: {
			ResourceLeaderboard: {ActionRead},
		},
		RoleModerator: {
			ResourceModeration: {ActionRead, ActionWrite, ActionAssign, ActionDecide, ActionEscalate},
			ResourceUsers:      {ActionRead},
		},
		RoleTAndS: {
			ResourceModeration: {ActionRead, ActionWrite, ActionAssign, ActionDecide, ActionEscalate, ActionResolveAppeal},
			ResourceUsers:      {ActionRead, ActionWrite},
			ResourceFraud:      {ActionRead, ActionWrite},
			ResourceAudit:      {ActionRead},
		},
		RoleOperator: {
			ResourceModeration:  {ActionRead, ActionWrite, ActionAssign, ActionDecide, ActionEscalate, ActionResolveAppeal},
			ResourceUsers:       {ActionRead, ActionWrite},
			ResourceTribes:      {ActionRead, ActionWrite},
			ResourceLeaderboard: {ActionRead, ActionWrite},
			ResourceConfig:      {ActionRead, ActionWrite},
			ResourceFraud:       {ActionRead, ActionWrite},
			ResourceAudit:       {ActionRead},
		},
		// RoleAdmin bypasses the matrix entirely (see HasPermission).
	}
}

// LoadMatrix replaces the default role matrix from a JSON file. Called once
// at startup before the server accepts requests; an empty path keeps the
// compiled-in defaults.
func LoadMatrix(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rbac matrix: %w", err)
	}
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse rbac matrix: %w", err)
	}
	matrix = m
	return nil
}
