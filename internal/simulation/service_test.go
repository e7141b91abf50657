package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opinionsim/internal/cache"
	apperrors "opinionsim/internal/common/errors"
	"opinionsim/internal/common/logger"
	"opinionsim/internal/models"
)

// fakeGateway scripts model responses per stage and counts calls.
type fakeGateway struct {
	responses map[string][]string
	errs      map[string]error
	calls     map[string]int
	lastUser  string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: map[string][]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeGateway) Complete(_ context.Context, stage, _, user string) (string, error) {
	f.calls[stage]++
	f.lastUser = user
	if err := f.errs[stage]; err != nil {
		return "", err
	}
	queue := f.responses[stage]
	if len(queue) == 0 {
		return "", fmt.Errorf("unscripted stage %s", stage)
	}
	next := queue[0]
	if len(queue) > 1 {
		f.responses[stage] = queue[1:]
	}
	return next, nil
}

func validPersonasJSON(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(models.DefaultPanel())
	require.NoError(t, err)
	return string(b)
}

func validOpinionsJSON(t *testing.T, panel []models.Persona) string {
	t.Helper()
	opinions := make([]models.Opinion, len(panel))
	for i, p := range panel {
		opinions[i] = models.Opinion{NameOfPersona: p.Name, Opinion: "My view on this."}
	}
	b, err := json.Marshal(opinions)
	require.NoError(t, err)
	return string(b)
}

func newTestService(t *testing.T, gw *fakeGateway) (*Service, cache.Store) {
	t.Helper()
	store := cache.NewMemoryStore(64, time.Hour)
	return NewService(gw, store, logger.Nop()), store
}

func TestGeneratePersonas(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["generate-personas"] = []string{validPersonasJSON(t)}
	svc, _ := newTestService(t, gw)

	result, err := svc.GeneratePersonas(context.Background(), "school uniforms")
	require.NoError(t, err)
	assert.Equal(t, "school uniforms", result.Topic)
	assert.Len(t, result.Personas, models.PanelSize)
	assert.False(t, result.Cached)
	assert.Equal(t, 1, gw.calls["generate-personas"])
}

func TestGeneratePersonasCacheHit(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["generate-personas"] = []string{validPersonasJSON(t)}
	svc, _ := newTestService(t, gw)

	first, err := svc.GeneratePersonas(context.Background(), "school uniforms")
	require.NoError(t, err)

	second, err := svc.GeneratePersonas(context.Background(), "school uniforms")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, models.Names(first.Personas), models.Names(second.Personas))
	assert.Equal(t, 1, gw.calls["generate-personas"], "cache hit must not call the model")
}

func TestGeneratePersonasSanitizesTopicIntoPrompt(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["generate-personas"] = []string{validPersonasJSON(t)}
	svc, _ := newTestService(t, gw)

	_, err := svc.GeneratePersonas(context.Background(), "  <script>alert(1)</script>tax   policy ")
	require.NoError(t, err)
	assert.Contains(t, gw.lastUser, `"tax policy"`)
	assert.NotContains(t, gw.lastUser, "<script>")
}

func TestTopicsDifferingOnlyInMarkupShareCacheEntry(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["generate-personas"] = []string{validPersonasJSON(t)}
	svc, _ := newTestService(t, gw)

	_, err := svc.GeneratePersonas(context.Background(), "tax policy")
	require.NoError(t, err)

	result, err := svc.GeneratePersonas(context.Background(), "<b>tax</b>  policy")
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, 1, gw.calls["generate-personas"])
}

func TestGeneratePersonasEmptyTopic(t *testing.T) {
	gw := newFakeGateway()
	svc, _ := newTestService(t, gw)

	_, err := svc.GeneratePersonas(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.AsStandardError(err).Code)
	assert.Zero(t, gw.calls["generate-personas"])
}

func TestGeneratePersonasParseFailureLeavesCacheCold(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["generate-personas"] = []string{"I'm sorry, I can't produce JSON."}
	svc, store := newTestService(t, gw)

	_, err := svc.GeneratePersonas(context.Background(), "tariffs")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeOutputParse, apperrors.AsStandardError(err).Code)

	_, found, storeErr := store.Get(context.Background(), cache.Key("tariffs", cache.StagePersonas))
	require.NoError(t, storeErr)
	assert.False(t, found, "failed requests must not populate the cache")
}

func TestGeneratePersonasModelError(t *testing.T) {
	gw := newFakeGateway()
	gw.errs["generate-personas"] = apperrors.NewModelCallFailedError(errors.New("upstream down"))
	svc, _ := newTestService(t, gw)

	_, err := svc.GeneratePersonas(context.Background(), "tariffs")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeModelCallFailed, apperrors.AsStandardError(err).Code)
}

func TestConfirmPersonas(t *testing.T) {
	gw := newFakeGateway()
	svc, store := newTestService(t, gw)

	panel := models.DefaultPanel()
	panel[0].ID = ""
	result, err := svc.ConfirmPersonas(context.Background(), "tariffs", panel)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Personas[0].ID, "confirmed personas get IDs")

	cached, found, err := store.Get(context.Background(), cache.Key("tariffs", cache.StageConfirmed))
	require.NoError(t, err)
	require.True(t, found)
	var stored []models.Persona
	require.NoError(t, json.Unmarshal(cached, &stored))
	assert.Equal(t, models.Names(panel), models.Names(stored))
}

func TestConfirmPersonasSanitizesFields(t *testing.T) {
	gw := newFakeGateway()
	svc, _ := newTestService(t, gw)

	panel := models.DefaultPanel()
	panel[0].Occupation = "<b>Teacher</b>"
	panel[1].Description = "Reads<script>alert(1)</script> industry news."

	result, err := svc.ConfirmPersonas(context.Background(), "tariffs", panel)
	require.NoError(t, err)
	assert.Equal(t, "Teacher", result.Personas[0].Occupation)
	assert.Equal(t, "Reads industry news.", result.Personas[1].Description)
}

func TestConfirmPersonasValidation(t *testing.T) {
	gw := newFakeGateway()
	svc, _ := newTestService(t, gw)

	tests := []struct {
		name   string
		mutate func(p []models.Persona) []models.Persona
		want   string
	}{
		{
			name:   "wrong panel size",
			mutate: func(p []models.Persona) []models.Persona { return p[:2] },
			want:   "exactly 3 personas",
		},
		{
			name: "age below bound",
			mutate: func(p []models.Persona) []models.Persona {
				p[0].Age = -1
				return p
			},
			want: "age must be between 0 and 120",
		},
		{
			name: "age above bound",
			mutate: func(p []models.Persona) []models.Persona {
				p[1].Age = 121
				return p
			},
			want: "age must be between 0 and 120",
		},
		{
			name: "income level out of range",
			mutate: func(p []models.Persona) []models.Persona {
				p[2].IncomeLevel = 11
				return p
			},
			want: "incomeLevel must be between 1 and 10",
		},
		{
			name: "missing occupation",
			mutate: func(p []models.Persona) []models.Persona {
				p[0].Occupation = " "
				return p
			},
			want: "occupation must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ConfirmPersonas(context.Background(), "tariffs", tt.mutate(models.DefaultPanel()))
			require.Error(t, err)
			stdErr := apperrors.AsStandardError(err)
			assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
			assert.Contains(t, stdErr.Message, tt.want)
		})
	}
}

func TestConfirmPersonasAcceptsBoundaryValues(t *testing.T) {
	gw := newFakeGateway()
	svc, _ := newTestService(t, gw)

	panel := models.DefaultPanel()
	panel[0].Age = 0
	panel[0].IncomeLevel = 1
	panel[1].Age = 120
	panel[1].IncomeLevel = 10

	result, err := svc.ConfirmPersonas(context.Background(), "tariffs", panel)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Personas[0].Age)
	assert.Equal(t, 1, result.Personas[0].IncomeLevel)
	assert.Equal(t, 120, result.Personas[1].Age)
	assert.Equal(t, 10, result.Personas[1].IncomeLevel)
}

func TestSimulateWithExplicitPanel(t *testing.T) {
	panel := models.DefaultPanel()
	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{validOpinionsJSON(t, panel)}
	svc, _ := newTestService(t, gw)

	result, err := svc.Simulate(context.Background(), "tariffs", panel)
	require.NoError(t, err)
	require.Len(t, result.Opinions, models.PanelSize)
	for i, o := range result.Opinions {
		assert.Equal(t, panel[i].Name, o.NameOfPersona)
	}
}

func TestSimulateUsesConfirmedPanel(t *testing.T) {
	panel := models.DefaultPanel()
	panel[0].Name = "Confirmed Carla"
	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{validOpinionsJSON(t, panel)}
	svc, _ := newTestService(t, gw)

	_, err := svc.ConfirmPersonas(context.Background(), "tariffs", panel)
	require.NoError(t, err)

	result, err := svc.Simulate(context.Background(), "tariffs", nil)
	require.NoError(t, err)
	assert.Equal(t, "Confirmed Carla", result.Personas[0].Name)
	assert.Contains(t, gw.lastUser, "Confirmed Carla")
}

func TestSimulateFallsBackToDefaultPanel(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{validOpinionsJSON(t, models.DefaultPanel())}
	svc, _ := newTestService(t, gw)

	result, err := svc.Simulate(context.Background(), "tariffs", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "John", "Alex"}, models.Names(result.Personas))
}

func TestSimulateCacheHitSkipsModel(t *testing.T) {
	panel := models.DefaultPanel()
	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{validOpinionsJSON(t, panel)}
	svc, _ := newTestService(t, gw)

	_, err := svc.Simulate(context.Background(), "tariffs", panel)
	require.NoError(t, err)

	second, err := svc.Simulate(context.Background(), "tariffs", panel)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, gw.calls["simulate-opinions"])
}

func TestSimulateNameMismatchFails(t *testing.T) {
	panel := models.DefaultPanel()
	wrong := []models.Opinion{
		{NameOfPersona: "Nobody", Opinion: "x"},
		{NameOfPersona: panel[1].Name, Opinion: "y"},
		{NameOfPersona: panel[2].Name, Opinion: "z"},
	}
	b, err := json.Marshal(wrong)
	require.NoError(t, err)

	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{string(b)}
	svc, store := newTestService(t, gw)

	_, err = svc.Simulate(context.Background(), "tariffs", panel)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeOutputParse, apperrors.AsStandardError(err).Code)

	_, found, storeErr := store.Get(context.Background(), cache.Key("tariffs", cache.StageOpinions))
	require.NoError(t, storeErr)
	assert.False(t, found)
}

func TestUpdatePersonasAndSimulateAlwaysRecomputes(t *testing.T) {
	panel := models.DefaultPanel()
	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{
		validOpinionsJSON(t, panel),
		validOpinionsJSON(t, panel),
	}
	svc, store := newTestService(t, gw)

	_, err := svc.UpdatePersonasAndSimulate(context.Background(), "tariffs", panel)
	require.NoError(t, err)

	// Same topic again: the opinion cache is warm, but edited panels must
	// not be answered from it.
	panel[0].Occupation = "Mayor"
	result, err := svc.UpdatePersonasAndSimulate(context.Background(), "tariffs", panel)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, gw.calls["simulate-opinions"])

	cached, found, err := store.Get(context.Background(), cache.Key("tariffs", cache.StageConfirmed))
	require.NoError(t, err)
	require.True(t, found)
	var stored []models.Persona
	require.NoError(t, json.Unmarshal(cached, &stored))
	assert.Equal(t, "Mayor", stored[0].Occupation)
}

func TestSimulateAfterUpdateServesRefreshedCache(t *testing.T) {
	panel := models.DefaultPanel()
	gw := newFakeGateway()
	gw.responses["simulate-opinions"] = []string{validOpinionsJSON(t, panel)}
	svc, _ := newTestService(t, gw)

	_, err := svc.UpdatePersonasAndSimulate(context.Background(), "tariffs", panel)
	require.NoError(t, err)

	result, err := svc.Simulate(context.Background(), "tariffs", nil)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, 1, gw.calls["simulate-opinions"])
}

func TestPersonaChat(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["persona-chat"] = []string{"As a teacher, I see both sides of it."}
	svc, _ := newTestService(t, gw)

	result, err := svc.PersonaChat(context.Background(), "", "Alice", "What about homework?")
	require.NoError(t, err)
	assert.Equal(t, "Alice", result.PersonaName)
	assert.Equal(t, "As a teacher, I see both sides of it.", result.Reply)
}

func TestPersonaChatUsesConfirmedProfile(t *testing.T) {
	panel := models.DefaultPanel()
	panel[2].Name = "Dr. Vega"
	panel[2].Occupation = "Volcanologist"

	gw := newFakeGateway()
	gw.responses["persona-chat"] = []string{"Fascinating question."}
	svc, _ := newTestService(t, gw)

	_, err := svc.ConfirmPersonas(context.Background(), "geothermal energy", panel)
	require.NoError(t, err)

	result, err := svc.PersonaChat(context.Background(), "geothermal energy", "dr. vega", "Is it safe?")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Vega", result.PersonaName, "name matching is case-insensitive")
}

func TestPersonaChatValidation(t *testing.T) {
	gw := newFakeGateway()
	svc, _ := newTestService(t, gw)

	_, err := svc.PersonaChat(context.Background(), "", "", "")
	require.Error(t, err)
	stdErr := apperrors.AsStandardError(err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
	assert.Contains(t, stdErr.Message, "personaName")
	assert.Contains(t, stdErr.Message, "userMessage")
	assert.Zero(t, gw.calls["persona-chat"])
}

func TestCacheFailureDegradesToMiss(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["generate-personas"] = []string{validPersonasJSON(t)}
	svc := NewService(gw, failingStore{}, logger.Nop())

	result, err := svc.GeneratePersonas(context.Background(), "tariffs")
	require.NoError(t, err, "cache outage must not fail the request")
	assert.False(t, result.Cached)
	assert.Len(t, result.Personas, models.PanelSize)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, apperrors.NewCacheUnavailableError(errors.New("connection refused"))
}

func (failingStore) Set(context.Context, string, []byte) error {
	return apperrors.NewCacheUnavailableError(errors.New("connection refused"))
}
