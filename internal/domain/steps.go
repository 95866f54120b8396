package domain

// Step IDs in wizard order.
const (
	StepBasics        = "basics"
	StepRoleSelection = "roleSelection"
	StepPainPoints    = "painPoints"
	StepWorkVolume    = "workVolume"
	StepTechStack     = "techStack"
	StepAdoption      = "adoption"
	StepROIInputs     = "roiInputs"
	StepReview        = "review"
)

// Role-keyed step data fields.
const (
	FieldRoleSpecificPainPoints = "roleSpecificPainPoints"
	FieldRoleWorkVolume         = "roleWorkVolume"
)

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case StepData:
		return map[string]any(CloneData(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// CloneData deep-copies step data.
func CloneData(d StepData) StepData {
	if d == nil {
		return StepData{}
	}
	out := make(StepData, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}
