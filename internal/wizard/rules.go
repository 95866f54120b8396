package wizard

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/go-playground/validator/v10"
)

// RuleFunc validates a step's merged data and returns the failing fields.
// An empty result means the data is valid.
type RuleFunc func(data domain.StepData) domain.FieldErrors

var (
	stepValidate *validator.Validate

	rulesMu sync.RWMutex
	rules   = map[string]RuleFunc{}
)

func init() {
	stepValidate = validator.New()

	Register(domain.StepBasics, validateBasics)
	Register(domain.StepRoleSelection, validateRoleSelection)
	Register(domain.StepPainPoints, validatePainPoints)
	Register(domain.StepWorkVolume, validateWorkVolume)
	Register(domain.StepTechStack, validateTechStack)
	Register(domain.StepAdoption, validateAdoption)
	Register(domain.StepROIInputs, validateROIInputs)
}

// Register installs the rule for stepID, replacing any existing rule.
func Register(stepID string, rule RuleFunc) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	rules[stepID] = rule
}

// Validate runs the rule registered for stepID. Steps without a rule are
// always valid.
func Validate(stepID string, data domain.StepData) domain.FieldErrors {
	rulesMu.RLock()
	rule := rules[stepID]
	rulesMu.RUnlock()

	if rule == nil {
		return nil
	}
	errs := rule(data)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateIndex validates the data of the step at index.
func ValidateIndex(index int, data domain.StepData) domain.FieldErrors {
	if index < 0 || index >= len(definitions) {
		return nil
	}
	return Validate(definitions[index].ID, data)
}

// collector accumulates field errors.
type collector domain.FieldErrors

func (c collector) add(field, msg string) {
	c[field] = append(c[field], msg)
}

// check runs tag against value and records one message per failing tag.
func (c collector) check(field, label string, value any, tag string) bool {
	err := stepValidate.Var(value, tag)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.add(field, fmt.Sprintf("%s is invalid", label))
		return false
	}
	for _, fe := range verrs {
		c.add(field, message(label, fe))
	}
	return false
}

// checkNumber validates an optional or required numeric field. Strings are
// rejected rather than coerced.
func (c collector) checkNumber(field, label string, value any, required bool, tag string) {
	if value == nil {
		if required {
			c.add(field, fmt.Sprintf("%s is required", label))
		}
		return
	}
	n, ok := number(value)
	if !ok {
		c.add(field, fmt.Sprintf("%s must be a number", label))
		return
	}
	c.check(field, label, n, tag)
}

func message(label string, fe validator.FieldError) string {
	unit := ""
	switch fe.Kind() {
	case reflect.String:
		unit = " characters"
	case reflect.Slice, reflect.Map, reflect.Array:
		unit = " items"
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", label)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s%s", label, fe.Param(), unit)
	case "min", "gte":
		if unit == " items" && fe.Param() == "1" {
			return fmt.Sprintf("%s must include at least one entry", label)
		}
		return fmt.Sprintf("%s must be at least %s%s", label, fe.Param(), unit)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", label, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", label, fe.Tag())
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func validateBasics(data domain.StepData) domain.FieldErrors {
	c := collector{}

	name := str(data["assessmentName"])
	if name == "" {
		name = str(data["reportName"])
	}
	c.check("assessmentName", "Assessment name", name, "required,max=100")
	c.check("companyName", "Company name", str(data["companyName"]), "max=200")
	c.check("industry", "Industry", str(data["industry"]), "max=100")

	return domain.FieldErrors(c)
}

func validateRoleSelection(data domain.StepData) domain.FieldErrors {
	c := collector{}

	if dept, ok := data["selectedDepartment"]; ok && dept != nil {
		m, isMap := dept.(map[string]any)
		if !isMap || m["id"] == nil {
			c.add("selectedDepartment", "Department selection must have an ID")
		}
	}

	roles, _ := data["selectedRoles"].([]any)
	if !c.check("selectedRoles", "Role selection", roles, "required,min=1") {
		return domain.FieldErrors(c)
	}
	for i, r := range roles {
		m, ok := r.(map[string]any)
		if !ok || m["id"] == nil {
			c.add("selectedRoles", fmt.Sprintf("Selected role %d must have an ID", i+1))
		}
	}
	return domain.FieldErrors(c)
}

func validatePainPoints(data domain.StepData) domain.FieldErrors {
	c := collector{}

	raw, ok := data[domain.FieldRoleSpecificPainPoints]
	if !ok || raw == nil {
		return nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		c.add(domain.FieldRoleSpecificPainPoints, "Pain points must be grouped by role")
		return domain.FieldErrors(c)
	}
	for key, v := range entries {
		entry, ok := v.(map[string]any)
		if !ok {
			c.add(domain.FieldRoleSpecificPainPoints, fmt.Sprintf("Pain points for role %s must be an object", key))
			continue
		}
		c.checkNumber(domain.FieldRoleSpecificPainPoints, fmt.Sprintf("Severity for role %s", key),
			entry["severity"], false, "min=1,max=5")
	}
	return domain.FieldErrors(c)
}

func validateWorkVolume(data domain.StepData) domain.FieldErrors {
	c := collector{}

	entries, _ := data[domain.FieldRoleWorkVolume].(map[string]any)
	for key, v := range entries {
		entry, ok := v.(map[string]any)
		if !ok {
			c.add(domain.FieldRoleWorkVolume, fmt.Sprintf("Work volume for role %s must be an object", key))
			continue
		}
		c.checkNumber(domain.FieldRoleWorkVolume, fmt.Sprintf("Hours per week for role %s", key),
			entry["hoursPerWeek"], false, "min=0,max=168")
	}
	return domain.FieldErrors(c)
}

func validateTechStack(data domain.StepData) domain.FieldErrors {
	c := collector{}

	tools, _ := data["currentTools"].([]any)
	c.check("currentTools", "Current tools", tools, "max=50")
	for i, t := range tools {
		if str(t) == "" {
			c.add("currentTools", fmt.Sprintf("Tool %d must not be empty", i+1))
		}
	}
	return domain.FieldErrors(c)
}

func validateAdoption(data domain.StepData) domain.FieldErrors {
	c := collector{}
	c.checkNumber("changeReadiness", "Change readiness", data["changeReadiness"], true, "min=1,max=10")
	return domain.FieldErrors(c)
}

func validateROIInputs(data domain.StepData) domain.FieldErrors {
	c := collector{}
	c.checkNumber("duration", "Duration", data["duration"], true, "min=15,max=180")
	c.checkNumber("hourlyRate", "Hourly rate", data["hourlyRate"], false, "gt=0")
	return domain.FieldErrors(c)
}
