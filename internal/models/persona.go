package models

import "github.com/google/uuid"

const (
	// PanelSize is the fixed number of personas in one simulation panel.
	PanelSize = 3

	MinAge         = 0
	MaxAge         = 120
	MinIncomeLevel = 1
	MaxIncomeLevel = 10
)

// Persona is one simulated demographic individual.
type Persona struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	Location      string `json:"location"`
	Education     string `json:"education"`
	MaritalStatus string `json:"maritalStatus"`
	Occupation    string `json:"occupation"`
	IncomeLevel   int    `json:"incomeLevel"`
	EthnicGroup   string `json:"ethnicGroup"`
	Religion      string `json:"religion"`
	Description   string `json:"description"`
}

// Opinion is one persona's stance on a topic.
type Opinion struct {
	NameOfPersona string `json:"nameOfPersona"`
	Opinion       string `json:"opinion"`
}

// AssignIDs fills in missing persona IDs. Model-generated personas arrive
// without IDs; client-edited personas keep the ones they were given.
func AssignIDs(personas []Persona) {
	for i := range personas {
		if personas[i].ID == "" {
			personas[i].ID = uuid.NewString()
		}
	}
}

// Names returns panel member names in panel order.
func Names(personas []Persona) []string {
	names := make([]string, len(personas))
	for i, p := range personas {
		names[i] = p.Name
	}
	return names
}

// DefaultPanel returns the built-in persona set used by the persona-less
// simulate variant.
func DefaultPanel() []Persona {
	return []Persona{
		{
			ID:            uuid.NewString(),
			Name:          "Alice",
			Age:           35,
			Gender:        "Female",
			Location:      "California",
			Education:     "Master's in Education",
			MaritalStatus: "Married",
			Occupation:    "Teacher",
			IncomeLevel:   6,
			EthnicGroup:   "White",
			Religion:      "Protestant",
			Description:   "A public school teacher who follows local politics closely and votes in every election.",
		},
		{
			ID:            uuid.NewString(),
			Name:          "John",
			Age:           45,
			Gender:        "Male",
			Location:      "Texas",
			Education:     "Bachelor's degree",
			MaritalStatus: "Single",
			Occupation:    "Software Engineer",
			IncomeLevel:   8,
			EthnicGroup:   "Hispanic",
			Religion:      "Catholic",
			Description:   "A backend engineer who reads industry news daily and is skeptical of regulation.",
		},
		{
			ID:            uuid.NewString(),
			Name:          "Alex",
			Age:           28,
			Gender:        "Non-binary",
			Location:      "New York",
			Education:     "PhD in Sociology",
			MaritalStatus: "Living with partner",
			Occupation:    "Researcher",
			IncomeLevel:   7,
			EthnicGroup:   "Asian",
			Religion:      "None",
			Description:   "An academic researcher focused on urban communities and social movements.",
		},
	}
}
