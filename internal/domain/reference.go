package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Department is a node in the organization hierarchy.
type Department struct {
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	ParentID *int         `json:"parentId,omitempty"`
	Children []Department `json:"children,omitempty"`
}

// JobRole is a selectable role within a department.
type JobRole struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	DepartmentID *int   `json:"departmentId,omitempty"`
}

// ReferenceData is the department/role lookup fetched once per session.
type ReferenceData struct {
	Hierarchical []Department `json:"hierarchical"`
	Roles        []JobRole    `json:"roles"`
}

// RoleKey stringifies a role ID. Role-keyed step data (pain points, work
// volume) is always indexed by this string form, never by the number.
// Numeric strings are canonicalized, so "7.0" and "7" name the same role.
func RoleKey(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		v = strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(v, 64); err == nil && math.Abs(f) < 1e15 {
			return RoleKey(f)
		}
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return RoleKey(v.String())
	default:
		return fmt.Sprint(v)
	}
}

// SelectedRoleKeys returns the sorted role keys chosen on the role
// selection step.
func SelectedRoleKeys(s *AssessmentSession) []string {
	var keys []string
	seen := make(map[string]bool)
	add := func(id any) {
		k := RoleKey(id)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	for _, step := range s.Steps {
		if step.ID != StepRoleSelection {
			continue
		}
		roles, _ := step.Data["selectedRoles"].([]any)
		for _, r := range roles {
			if m, ok := r.(map[string]any); ok {
				add(m["id"])
			}
		}
	}
	if s.SelectedJobRole != nil {
		add(s.SelectedJobRole.ID)
	}
	sort.Strings(keys)
	return keys
}
