package simulation

import (
	"fmt"
	"strings"

	"opinionsim/internal/models"
)

const maxTopicLength = 500

// ValidateTopic returns the list of constraint violations for a raw topic
// string. An empty slice means the topic is acceptable.
func ValidateTopic(topic string) []string {
	var violations []string
	trimmed := strings.TrimSpace(topic)
	if trimmed == "" {
		violations = append(violations, "topic must not be empty")
	}
	if len(trimmed) > maxTopicLength {
		violations = append(violations,
			fmt.Sprintf("topic must not exceed %d characters", maxTopicLength))
	}
	return violations
}

// ValidatePersonas checks a client-supplied panel: correct size, all
// attribute fields present, numeric fields within bounds.
func ValidatePersonas(personas []models.Persona) []string {
	var violations []string
	if len(personas) != models.PanelSize {
		violations = append(violations,
			fmt.Sprintf("exactly %d personas are required, got %d", models.PanelSize, len(personas)))
	}
	for i, p := range personas {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("persona %d", i+1)
		}
		for _, check := range []struct {
			field string
			value string
		}{
			{"name", p.Name},
			{"gender", p.Gender},
			{"location", p.Location},
			{"education", p.Education},
			{"maritalStatus", p.MaritalStatus},
			{"occupation", p.Occupation},
			{"ethnicGroup", p.EthnicGroup},
			{"religion", p.Religion},
			{"description", p.Description},
		} {
			if strings.TrimSpace(check.value) == "" {
				violations = append(violations,
					fmt.Sprintf("%s: %s must not be empty", label, check.field))
			}
		}
		if p.Age < models.MinAge || p.Age > models.MaxAge {
			violations = append(violations, fmt.Sprintf(
				"%s: age must be between %d and %d", label, models.MinAge, models.MaxAge))
		}
		if p.IncomeLevel < models.MinIncomeLevel || p.IncomeLevel > models.MaxIncomeLevel {
			violations = append(violations, fmt.Sprintf(
				"%s: incomeLevel must be between %d and %d", label, models.MinIncomeLevel, models.MaxIncomeLevel))
		}
	}
	return violations
}
