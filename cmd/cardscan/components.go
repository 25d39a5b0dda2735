package main

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/cardscan/internal/config"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/extract"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/ocr"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/dedupe"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/history"
	"github.com/GriffinCanCode/cardscan/internal/prefilter"
	"github.com/GriffinCanCode/cardscan/internal/queue"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
	"github.com/GriffinCanCode/cardscan/internal/storage"
	"github.com/GriffinCanCode/cardscan/internal/validate"
)

// components holds everything built from config that needs closing.
type components struct {
	ocr       ocr.Provider
	store     *storage.Postgres
	publisher *queue.Publisher
	redis     *redis.Client
}

func (c *components) Close() {
	if cl, ok := c.ocr.(ocr.Closer); ok {
		_ = cl.Close()
	}
	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// buildExtractor returns the rules extractor, or the AI extractor guarded by
// a breaker that falls back to rules.
func buildExtractor(cfg *config.Config, m *metrics.Metrics) (extract.Extractor, error) {
	rules := extract.NewRuleExtractor()
	if !cfg.AIEnabled {
		return rules, nil
	}
	ai, err := extract.NewAIExtractor(extract.AIConfig{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		return nil, err
	}
	breaker := resilience.New("ai_extractor", resilience.DefaultConfig()).WithHook(breakerHook(m))
	return extract.NewFallbackExtractor(ai, rules,
		extract.WithBreaker(breaker),
		extract.WithFallbackOnError(cfg.AIFallbackToRules),
		extract.WithFallbackHook(m.IncFallback),
	), nil
}

// breakerHook exports breaker transitions as a gauge.
func breakerHook(m *metrics.Metrics) func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		m.SetBreakerState(name, int(to))
	}
}

func buildPrefilters(cfg *config.Config) (live, still *prefilter.Filter) {
	p := prefilter.ProfileByName(cfg.PrefilterProfile)
	if cfg.PrefilterThreshold > 0 {
		p.Threshold = cfg.PrefilterThreshold
	}
	return prefilter.New(p), prefilter.New(prefilter.StillProfile)
}

// buildComponents opens the OCR provider and the configured persistence.
// The card store is opened whenever DATABASE_URL is set, so the read API and
// the audit trail work in every persist mode.
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}
	var err error
	c.ocr, err = ocr.New(ocr.Config{
		Provider:       cfg.OCRProvider,
		TesseractLangs: cfg.TesseractLangs,
		VisionAPIKey:   cfg.VisionAPIKey,
		GRPCAddr:       cfg.OCRGRPCAddr,
	})
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		if c.store, err = storage.Open(ctx, cfg.DatabaseURL); err != nil {
			c.Close()
			return nil, err
		}
	}
	if cfg.PersistMode == config.PersistQueue {
		if c.publisher, err = queue.NewPublisher(cfg.RedisURL); err != nil {
			c.Close()
			return nil, err
		}
	}
	if cfg.HistoryBackend == config.HistoryRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse REDIS_URL")
		}
		c.redis = redis.NewClient(opts)
	}
	return c, nil
}

// sink picks where accepted cards go.
func (c *components) sink(mode string) orchestrator.Sink {
	switch mode {
	case config.PersistDirect:
		return c.store
	case config.PersistQueue:
		return c.publisher
	}
	return nil
}

func (c *components) history() history.Store {
	if c.redis != nil {
		return history.NewRedisStore(c.redis, orchestrator.HistoryMaxEntries)
	}
	return history.NewMemoryStore(orchestrator.HistoryMaxEntries)
}

func buildOrchestrator(cfg *config.Config, c *components, m *metrics.Metrics) (*orchestrator.Orchestrator, error) {
	ex, err := buildExtractor(cfg, m)
	if err != nil {
		return nil, err
	}
	if g, ok := c.ocr.(interface{ Breaker() *resilience.Breaker }); ok {
		g.Breaker().WithHook(breakerHook(m))
	}
	live, still := buildPrefilters(cfg)
	return orchestrator.New(orchestrator.Config{
		OCR:            c.ocr,
		Extractor:      ex,
		Prefilter:      live,
		StillPrefilter: still,
		Validator:      validate.New(),
		Guard:          dedupe.New(cfg.DuplicateCooldown),
		Sink:           c.sink(cfg.PersistMode),
		StageHook:      m.ObserveStage,
		SuccessDisplay: cfg.SuccessDisplay,
		ErrorDisplay:   cfg.ErrorDisplay,
	}), nil
}
