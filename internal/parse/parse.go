// Package parse turns raw model text into typed records. Models are told
// to emit bare JSON but still wrap it in code fences or prose often enough
// that parsing is defensive: strip the wrapping, locate the array, validate
// its shape against a schema, then unmarshal.
package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "opinionsim/internal/common/errors"
	"opinionsim/internal/models"
)

const personasSchema = `{
  "type": "array",
  "minItems": 3,
  "maxItems": 3,
  "items": {
    "type": "object",
    "required": ["name", "age", "gender", "location", "education",
                 "maritalStatus", "occupation", "incomeLevel",
                 "ethnicGroup", "religion", "description"],
    "properties": {
      "id":            {"type": "string"},
      "name":          {"type": "string", "minLength": 1},
      "age":           {"type": "integer", "minimum": 0, "maximum": 120},
      "gender":        {"type": "string", "minLength": 1},
      "location":      {"type": "string", "minLength": 1},
      "education":     {"type": "string", "minLength": 1},
      "maritalStatus": {"type": "string", "minLength": 1},
      "occupation":    {"type": "string", "minLength": 1},
      "incomeLevel":   {"type": "integer", "minimum": 1, "maximum": 10},
      "ethnicGroup":   {"type": "string", "minLength": 1},
      "religion":      {"type": "string", "minLength": 1},
      "description":   {"type": "string", "minLength": 1}
    }
  }
}`

const opinionsSchema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["nameOfPersona", "opinion"],
    "properties": {
      "nameOfPersona": {"type": "string", "minLength": 1},
      "opinion":       {"type": "string", "minLength": 1}
    }
  }
}`

var (
	personasLoader = gojsonschema.NewStringLoader(personasSchema)
	opinionsLoader = gojsonschema.NewStringLoader(opinionsSchema)
)

// ExtractJSON strips markdown code fences and surrounding prose, returning
// the outermost JSON array in the text. Returns an error when no array can
// be located.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)

	// Drop fence lines wherever they appear; models sometimes fence only
	// the tail of the response.
	if strings.Contains(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.Join(kept, "\n")
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON array found in model output")
	}
	return text[start : end+1], nil
}

// Personas parses a persona-generation response into a validated panel.
// IDs are assigned to personas that arrive without one.
func Personas(raw string) ([]models.Persona, error) {
	doc, err := extractAndValidate(raw, personasLoader)
	if err != nil {
		return nil, err
	}

	var personas []models.Persona
	if err := json.Unmarshal([]byte(doc), &personas); err != nil {
		return nil, apperrors.NewOutputParseError(
			fmt.Sprintf("persona decode failed: %v", err), raw)
	}
	models.AssignIDs(personas)
	return personas, nil
}

// Opinions parses an opinion-simulation response and checks it against the
// panel it was generated for: one opinion per persona, every name matching
// a panel member, no duplicates.
func Opinions(raw string, panel []models.Persona) ([]models.Opinion, error) {
	doc, err := extractAndValidate(raw, opinionsLoader)
	if err != nil {
		return nil, err
	}

	var opinions []models.Opinion
	if err := json.Unmarshal([]byte(doc), &opinions); err != nil {
		return nil, apperrors.NewOutputParseError(
			fmt.Sprintf("opinion decode failed: %v", err), raw)
	}

	if len(opinions) != len(panel) {
		return nil, apperrors.NewOutputParseError(
			fmt.Sprintf("expected %d opinions, got %d", len(panel), len(opinions)), raw)
	}

	known := make(map[string]bool, len(panel))
	for _, p := range panel {
		known[p.Name] = true
	}
	seen := make(map[string]bool, len(opinions))
	for _, o := range opinions {
		if !known[o.NameOfPersona] {
			return nil, apperrors.NewOutputParseError(
				fmt.Sprintf("opinion references unknown persona %q", o.NameOfPersona), raw)
		}
		if seen[o.NameOfPersona] {
			return nil, apperrors.NewOutputParseError(
				fmt.Sprintf("duplicate opinion for persona %q", o.NameOfPersona), raw)
		}
		seen[o.NameOfPersona] = true
	}
	return opinions, nil
}

func extractAndValidate(raw string, schema gojsonschema.JSONLoader) (string, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return "", apperrors.NewOutputParseError(err.Error(), raw)
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return "", apperrors.NewOutputParseError(
			fmt.Sprintf("output is not valid JSON: %v", err), raw)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return "", apperrors.NewOutputParseError(
			"output failed schema validation: "+strings.Join(reasons, "; "), raw)
	}
	return doc, nil
}
