// Package simulation orchestrates the opinion-panel pipeline: input
// validation, sanitization, cache lookup, prompt construction, model
// calls, output parsing, and cache writes.
package simulation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"opinionsim/internal/cache"
	apperrors "opinionsim/internal/common/errors"
	"opinionsim/internal/common/logger"
	"opinionsim/internal/common/metrics"
	"opinionsim/internal/models"
	"opinionsim/internal/parse"
	"opinionsim/internal/prompt"
	"opinionsim/internal/sanitize"
)

// Gateway is the model-call dependency. *openai.Client satisfies it.
type Gateway interface {
	Complete(ctx context.Context, stage, system, user string) (string, error)
}

// PanelResult is the outcome of persona generation or confirmation.
type PanelResult struct {
	Topic    string           `json:"topic"`
	Personas []models.Persona `json:"personas"`
	Cached   bool             `json:"cached"`
}

// OpinionResult is the outcome of an opinion simulation.
type OpinionResult struct {
	Topic    string           `json:"topic"`
	Personas []models.Persona `json:"personas"`
	Opinions []models.Opinion `json:"opinions"`
	Cached   bool             `json:"cached"`
}

// ChatResult is one persona's free-form reply.
type ChatResult struct {
	PersonaName string `json:"personaName"`
	Reply       string `json:"reply"`
}

// Service drives the two-stage simulation pipeline. All methods return
// *errors.StandardError on failure.
type Service struct {
	gateway Gateway
	store   cache.Store
	log     logger.Logger
}

func NewService(gateway Gateway, store cache.Store, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{gateway: gateway, store: store, log: log}
}

// GeneratePersonas produces a 3-member panel for a topic, serving from
// cache when a panel for the same topic is still fresh.
func (s *Service) GeneratePersonas(ctx context.Context, rawTopic string) (*PanelResult, error) {
	const operation = "generate-personas"
	start := time.Now()

	topic, err := s.prepareTopic(rawTopic)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, err
	}
	log := s.log.With(map[string]interface{}{"operation": operation, "topic": topic})

	if cached, ok := s.cacheGet(ctx, log, cache.Key(topic, cache.StagePersonas)); ok {
		var personas []models.Persona
		if decodeErr := json.Unmarshal(cached, &personas); decodeErr != nil {
			log.Warn("discarding undecodable cache entry", map[string]interface{}{"error": decodeErr.Error()})
		} else {
			metrics.PipelineRequests.WithLabelValues(operation, "cache_hit").Inc()
			metrics.PipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
			return &PanelResult{Topic: topic, Personas: personas, Cached: true}, nil
		}
	}

	p := prompt.GeneratePersonas(topic)
	raw, err := s.gateway.Complete(ctx, string(p.Stage), p.System, p.User)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "error").Inc()
		return nil, apperrors.AsStandardError(err)
	}
	personas, err := parse.Personas(raw)
	if err != nil {
		log.WithError(err).Error("persona generation output rejected", nil)
		metrics.PipelineRequests.WithLabelValues(operation, "error").Inc()
		return nil, apperrors.AsStandardError(err)
	}

	s.cacheSet(ctx, log, cache.Key(topic, cache.StagePersonas), personas)
	log.Info("panel generated", map[string]interface{}{"personas": models.Names(personas)})
	metrics.PipelineRequests.WithLabelValues(operation, "ok").Inc()
	metrics.PipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return &PanelResult{Topic: topic, Personas: personas}, nil
}

// ConfirmPersonas records a client-approved (possibly edited) panel for a
// topic. The confirmed panel is what later simulations use.
func (s *Service) ConfirmPersonas(ctx context.Context, rawTopic string, personas []models.Persona) (*PanelResult, error) {
	const operation = "confirm-personas"

	topic, err := s.prepareTopic(rawTopic)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, err
	}
	personas, err = preparePersonas(personas)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, err
	}

	log := s.log.With(map[string]interface{}{"operation": operation, "topic": topic})
	s.cacheSet(ctx, log, cache.Key(topic, cache.StageConfirmed), personas)
	log.Info("panel confirmed", map[string]interface{}{"personas": models.Names(personas)})
	metrics.PipelineRequests.WithLabelValues(operation, "ok").Inc()
	return &PanelResult{Topic: topic, Personas: personas}, nil
}

// Simulate runs the opinion stage for a topic. When personas is empty the
// confirmed panel for the topic is used, falling back to the built-in
// default panel. Opinions for the same topic are served from cache.
func (s *Service) Simulate(ctx context.Context, rawTopic string, personas []models.Persona) (*OpinionResult, error) {
	const operation = "simulate"
	start := time.Now()

	topic, err := s.prepareTopic(rawTopic)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, err
	}
	log := s.log.With(map[string]interface{}{"operation": operation, "topic": topic})

	if len(personas) > 0 {
		personas, err = preparePersonas(personas)
		if err != nil {
			metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
			return nil, err
		}
	} else {
		personas = s.panelForTopic(ctx, log, topic)
	}

	if cached, ok := s.cacheGet(ctx, log, cache.Key(topic, cache.StageOpinions)); ok {
		var opinions []models.Opinion
		if decodeErr := json.Unmarshal(cached, &opinions); decodeErr != nil {
			log.Warn("discarding undecodable cache entry", map[string]interface{}{"error": decodeErr.Error()})
		} else {
			metrics.PipelineRequests.WithLabelValues(operation, "cache_hit").Inc()
			metrics.PipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
			return &OpinionResult{Topic: topic, Personas: personas, Opinions: opinions, Cached: true}, nil
		}
	}

	opinions, err := s.simulateOpinions(ctx, log, topic, personas)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "error").Inc()
		return nil, err
	}
	metrics.PipelineRequests.WithLabelValues(operation, "ok").Inc()
	metrics.PipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return &OpinionResult{Topic: topic, Personas: personas, Opinions: opinions}, nil
}

// UpdatePersonasAndSimulate replaces the confirmed panel and recomputes
// opinions unconditionally. Edited personas invalidate any cached opinions
// for the topic, so this path never reads the opinion cache.
func (s *Service) UpdatePersonasAndSimulate(ctx context.Context, rawTopic string, personas []models.Persona) (*OpinionResult, error) {
	const operation = "update-personas-and-simulate"
	start := time.Now()

	topic, err := s.prepareTopic(rawTopic)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, err
	}
	personas, err = preparePersonas(personas)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, err
	}

	log := s.log.With(map[string]interface{}{"operation": operation, "topic": topic})
	s.cacheSet(ctx, log, cache.Key(topic, cache.StageConfirmed), personas)

	opinions, err := s.simulateOpinions(ctx, log, topic, personas)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "error").Inc()
		return nil, err
	}
	metrics.PipelineRequests.WithLabelValues(operation, "ok").Inc()
	metrics.PipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return &OpinionResult{Topic: topic, Personas: personas, Opinions: opinions}, nil
}

// PersonaChat answers one user message in the voice of a named panel
// member. The persona profile comes from the confirmed panel for the topic
// when one exists, else from the built-in panel, else just the name.
// Replies are free text and are never cached.
func (s *Service) PersonaChat(ctx context.Context, rawTopic, personaName, userMessage string) (*ChatResult, error) {
	const operation = "persona-chat"

	name := sanitize.Text(personaName)
	message := sanitize.Text(userMessage)
	var violations []string
	if name == "" {
		violations = append(violations, "personaName must not be empty")
	}
	if message == "" {
		violations = append(violations, "userMessage must not be empty")
	}
	if len(violations) > 0 {
		metrics.PipelineRequests.WithLabelValues(operation, "invalid").Inc()
		return nil, apperrors.NewValidationFailedError(violations)
	}

	log := s.log.With(map[string]interface{}{"operation": operation, "persona": name})
	persona := s.lookupPersona(ctx, log, sanitize.Text(rawTopic), name)

	p := prompt.PersonaChat(persona, message)
	reply, err := s.gateway.Complete(ctx, string(p.Stage), p.System, p.User)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(operation, "error").Inc()
		return nil, apperrors.AsStandardError(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		metrics.PipelineRequests.WithLabelValues(operation, "error").Inc()
		return nil, apperrors.NewOutputParseError("empty chat reply", reply)
	}
	metrics.PipelineRequests.WithLabelValues(operation, "ok").Inc()
	return &ChatResult{PersonaName: persona.Name, Reply: reply}, nil
}

func (s *Service) simulateOpinions(ctx context.Context, log logger.Logger, topic string, personas []models.Persona) ([]models.Opinion, error) {
	p := prompt.SimulateOpinions(topic, personas)
	raw, err := s.gateway.Complete(ctx, string(p.Stage), p.System, p.User)
	if err != nil {
		return nil, apperrors.AsStandardError(err)
	}
	opinions, err := parse.Opinions(raw, personas)
	if err != nil {
		log.WithError(err).Error("opinion simulation output rejected", nil)
		return nil, apperrors.AsStandardError(err)
	}
	s.cacheSet(ctx, log, cache.Key(topic, cache.StageOpinions), opinions)
	log.Info("opinions simulated", map[string]interface{}{"count": len(opinions)})
	return opinions, nil
}

// panelForTopic resolves which personas a persona-less simulate request is
// for: the confirmed panel when cached, the built-in panel otherwise.
func (s *Service) panelForTopic(ctx context.Context, log logger.Logger, topic string) []models.Persona {
	if cached, ok := s.cacheGet(ctx, log, cache.Key(topic, cache.StageConfirmed)); ok {
		var personas []models.Persona
		if err := json.Unmarshal(cached, &personas); err == nil && len(personas) == models.PanelSize {
			return personas
		}
	}
	return models.DefaultPanel()
}

func (s *Service) lookupPersona(ctx context.Context, log logger.Logger, topic, name string) models.Persona {
	var candidates []models.Persona
	if topic != "" {
		candidates = s.panelForTopic(ctx, log, topic)
	} else {
		candidates = models.DefaultPanel()
	}
	for _, p := range candidates {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	// Unknown name: chat with a bare persona rather than failing; the
	// model improvises a plausible character from the name alone.
	return models.Persona{Name: name, Description: "A survey panel member."}
}

// preparePersonas sanitizes every free-text persona field and validates the
// result, so markup stripped from a field is also absent from prompts and
// cache entries.
func preparePersonas(personas []models.Persona) ([]models.Persona, error) {
	cleaned := make([]models.Persona, len(personas))
	for i, p := range personas {
		p.Name = sanitize.Text(p.Name)
		p.Gender = sanitize.Text(p.Gender)
		p.Location = sanitize.Text(p.Location)
		p.Education = sanitize.Text(p.Education)
		p.MaritalStatus = sanitize.Text(p.MaritalStatus)
		p.Occupation = sanitize.Text(p.Occupation)
		p.EthnicGroup = sanitize.Text(p.EthnicGroup)
		p.Religion = sanitize.Text(p.Religion)
		p.Description = sanitize.Text(p.Description)
		cleaned[i] = p
	}
	if violations := ValidatePersonas(cleaned); len(violations) > 0 {
		return nil, apperrors.NewValidationFailedError(violations)
	}
	models.AssignIDs(cleaned)
	return cleaned, nil
}

func (s *Service) prepareTopic(rawTopic string) (string, error) {
	topic := sanitize.Text(rawTopic)
	if violations := ValidateTopic(topic); len(violations) > 0 {
		return "", apperrors.NewValidationFailedError(violations)
	}
	return topic, nil
}

// cacheGet reads a cache entry, degrading backend failures to a miss so an
// unavailable cache never blocks the pipeline.
func (s *Service) cacheGet(ctx context.Context, log logger.Logger, key string) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	value, found, err := s.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("cache read failed, treating as miss", map[string]interface{}{"key": key})
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !found {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return value, true
}

// cacheSet stores a value best-effort. Write failures are logged and
// swallowed; a request that produced a valid result still succeeds.
func (s *Service) cacheSet(ctx context.Context, log logger.Logger, key string, value interface{}) {
	if s.store == nil {
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).Warn("cache encode failed", map[string]interface{}{"key": key})
		return
	}
	if err := s.store.Set(ctx, key, encoded); err != nil {
		log.WithError(err).Warn("cache write failed", map[string]interface{}{"key": key})
	}
}
