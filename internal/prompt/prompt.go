// Package prompt renders the fixed chat templates for each pipeline stage.
// Templates are data: versioned per stage, with explicit placeholder
// substitution and an explicit output-schema block, so prompt changes are
// auditable and testable independently of the orchestration code.
package prompt

import (
	"fmt"
	"strings"

	"opinionsim/internal/models"
)

type Stage string

const (
	StageGeneratePersonas Stage = "generate-personas"
	StageSimulateOpinions Stage = "simulate-opinions"
	StagePersonaChat      Stage = "persona-chat"
)

// Prompt is a rendered two-message chat payload for one model call.
type Prompt struct {
	Stage   Stage
	Version string
	System  string
	User    string
}

const (
	generatePersonasVersion = "v2"
	simulateOpinionsVersion = "v2"
	personaChatVersion      = "v1"
)

// The model's raw text is the only channel back, so every template is
// maximally prescriptive about output shape. This is the central
// reliability lever of the whole pipeline.
const jsonOnlyInstruction = "Respond with ONLY the JSON described above. " +
	"No introduction, no explanation, no markdown code fences."

const personaSchemaBlock = `Output a JSON array of exactly 3 objects. Each object has exactly these fields:
{
  "name": string,
  "age": integer between 0 and 120,
  "gender": string,
  "location": string,
  "education": string,
  "maritalStatus": string,
  "occupation": string,
  "incomeLevel": integer between 1 and 10 (ordinal income bracket),
  "ethnicGroup": string,
  "religion": string,
  "description": string (a short narrative about this person)
}
Every string field must be non-empty.`

const opinionSchemaBlock = `Output a JSON array with one object per persona, in the same order. Each object has exactly these fields:
{
  "nameOfPersona": string (must exactly match one of the persona names above),
  "opinion": string (that persona's stance, in their own voice, 2-4 sentences)
}`

// GeneratePersonas renders the persona-generation prompt for a sanitized
// topic. The diversity policy is encoded here: one persona close to the
// mainstream opinion on the topic, one less close, one fully external.
func GeneratePersonas(topic string) Prompt {
	var parts []string

	parts = append(parts, fmt.Sprintf(
		"Invent 3 demographic personas to be polled about the topic: %q.", topic))
	parts = append(parts, "The 3 personas must have markedly different profiles relative to the topic:")
	parts = append(parts, "1. One whose background places them close to the mainstream opinion on this topic.")
	parts = append(parts, "2. One whose background places them less close to the mainstream opinion.")
	parts = append(parts, "3. One whose background is unrelated or external to the topic entirely.")
	parts = append(parts, "")
	parts = append(parts, personaSchemaBlock)
	parts = append(parts, "")
	parts = append(parts, jsonOnlyInstruction)

	return Prompt{
		Stage:   StageGeneratePersonas,
		Version: generatePersonasVersion,
		System:  "You are a demographic researcher who designs realistic survey panels.",
		User:    strings.Join(parts, "\n"),
	}
}

// SimulateOpinions renders the opinion-simulation prompt for a sanitized
// topic and its 3-member panel. All persona attributes are spelled out so
// the model grounds each opinion in the full profile.
func SimulateOpinions(topic string, personas []models.Persona) Prompt {
	var parts []string

	parts = append(parts, fmt.Sprintf(
		"Simulate each persona's opinion on the topic: %q.", topic))
	parts = append(parts, "")
	parts = append(parts, "The personas:")
	for i, p := range personas {
		parts = append(parts, fmt.Sprintf("%d. %s:", i+1, p.Name))
		parts = append(parts, fmt.Sprintf(
			"   Age %d, %s, %s, %s, %s, %s, income level %d of 10, %s, %s.",
			p.Age, p.Gender, p.Location, p.Education, p.MaritalStatus,
			p.Occupation, p.IncomeLevel, p.EthnicGroup, p.Religion))
		if p.Description != "" {
			parts = append(parts, fmt.Sprintf("   About them: %s", p.Description))
		}
	}
	parts = append(parts, "")
	parts = append(parts, "Each opinion must reflect that persona's background and stay in their voice.")
	parts = append(parts, "")
	parts = append(parts, opinionSchemaBlock)
	parts = append(parts, "")
	parts = append(parts, jsonOnlyInstruction)

	return Prompt{
		Stage:   StageSimulateOpinions,
		Version: simulateOpinionsVersion,
		System:  "You are a response simulator for a panel of distinct demographic personas.",
		User:    strings.Join(parts, "\n"),
	}
}

// PersonaChat renders the free-form chat prompt for one persona. Chat
// replies are plain text, not JSON; the persona stays in character.
func PersonaChat(persona models.Persona, userMessage string) Prompt {
	system := fmt.Sprintf(
		"You are %s: age %d, %s, living in %s, %s, %s, working as %s. %s "+
			"Stay in character and answer in the first person. Keep replies under 120 words.",
		persona.Name, persona.Age, persona.Gender, persona.Location,
		persona.Education, persona.MaritalStatus, persona.Occupation,
		persona.Description)

	return Prompt{
		Stage:   StagePersonaChat,
		Version: personaChatVersion,
		System:  system,
		User:    userMessage,
	}
}
