package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/ai"
	"github.com/local/docpipeline/internal/blobstore"
	"github.com/local/docpipeline/internal/breaker"
	"github.com/local/docpipeline/internal/config"
	"github.com/local/docpipeline/internal/converter"
	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/embeddings"
	"github.com/local/docpipeline/internal/enrich"
	"github.com/local/docpipeline/internal/extract"
	"github.com/local/docpipeline/internal/layout"
	"github.com/local/docpipeline/internal/limiter"
	logpkg "github.com/local/docpipeline/internal/logger"
	"github.com/local/docpipeline/internal/materialise"
	"github.com/local/docpipeline/internal/metrics"
	"github.com/local/docpipeline/internal/orchestrator"
	"github.com/local/docpipeline/internal/registry"
	"github.com/local/docpipeline/internal/store"
	"github.com/local/docpipeline/internal/templates"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()
	log.Info().Str("version", orchestrator.Version).Msg("docpipeline starting")

	// Stores
	client, err := store.Connect(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer client.Close()
	docs := store.NewDocumentStore(client)
	arts := store.NewArtifactStore(client)
	status := store.NewStatusStore(client)

	blobs, err := blobstore.New(context.Background(), cfg.Blob)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init blob store")
	}
	persister := blobstore.NewPersister(blobs, arts)

	// Backend registry
	reg := registry.New(cfg.Backends.ProbeInterval, cfg.Backends.ProbeTimeout)
	if cfg.Backends.LayoutURL != "" {
		reg.Register(registry.Backend{
			Name:         decoder.EngineLayoutRemote,
			BaseURL:      cfg.Backends.LayoutURL,
			Capabilities: []registry.Capability{registry.CapLayout},
		}, registry.HTTPProbe(nil, cfg.Backends.LayoutURL+"/health"))
	}
	if cfg.Backends.OCRURL != "" {
		reg.Register(registry.Backend{
			Name:         decoder.EngineOCRFallback,
			BaseURL:      cfg.Backends.OCRURL,
			Capabilities: []registry.Capability{registry.CapOCR},
		}, registry.HTTPProbe(nil, cfg.Backends.OCRURL+"/health"))
	}
	ollama := ai.NewOllamaClient(cfg.Backends.VisionURL)
	reg.Register(registry.Backend{
		Name:         "vision_llm",
		BaseURL:      cfg.Backends.VisionURL,
		Capabilities: []registry.Capability{registry.CapVisionLLM, registry.CapTextLLMLocal, registry.CapEmbeddings},
	}, func(ctx context.Context) error {
		tags, err := ollama.Tags(ctx)
		if err != nil {
			return err
		}
		for _, model := range []string{cfg.Providers.VisionModel, cfg.Providers.EmbedModel} {
			if !hasModel(tags, model) {
				return fmt.Errorf("model %s not pulled", model)
			}
		}
		return nil
	})
	reg.Register(registry.Backend{
		Name:         "cloud_a",
		Capabilities: []registry.Capability{registry.CapVisionLLM, registry.CapTextLLMCloud},
	}, registry.StaticProbe(cfg.Providers.OpenAIKey != "", "no API key"))
	reg.Register(registry.Backend{
		Name:         "cloud_b",
		Capabilities: []registry.Capability{registry.CapTextLLMCloud},
	}, registry.StaticProbe(cfg.Providers.AnthropicKey != "", "no API key"))
	reg.Start()
	defer reg.Stop()

	// Pipeline stages
	dec := decoder.New(cfg.Backends.LayoutMaxFileMB)
	conv := converter.New(2)

	ext := layout.NewExtractor(reg, cfg.Backends.LayoutTimeout)
	if cfg.Backends.LayoutURL != "" {
		ext.Register(layout.NewRemoteEngine(cfg.Backends.LayoutURL))
	}
	ext.Register(layout.NewNativeEngine())
	if cfg.Backends.OCRURL != "" {
		ext.Register(layout.NewOCREngine(cfg.Backends.OCRURL))
	}

	pool := limiter.New(map[string]int{
		"local":   cfg.Enrich.LocalLimit,
		"cloud_a": cfg.Enrich.CloudLimit,
	}, cfg.Enrich.LocalLimit)
	embedder := embeddings.New(ollama, cfg.Providers.EmbedModel, cfg.Embed)
	enricher := enrich.New(cfg.Enrich, cfg.Providers, cfg.Backends.VisionURL, pool, embedder)

	providers := extract.NewProviders(cfg.Providers, cfg.Backends.VisionURL)
	brk := breaker.New(client, cfg.Extract.BreakerBaseBackoff, cfg.Extract.BreakerMaxBackoff)
	structured := extract.New(providers, brk)

	reg2, err := templates.Load(cfg.Templates.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load extraction templates")
	}
	log.Info().Int("count", reg2.Count()).Str("dir", cfg.Templates.Dir).Msg("extraction templates loaded")

	orch := orchestrator.New(orchestrator.Deps{
		Decoder:   dec,
		Converter: conv,
		Layout:    ext,
		Builder:   materialise.New(),
		Persister: persister,
		Blobs:     blobs,
		Enricher:  enricher,
		Extractor: structured,
		Providers: providers,
		Templates: reg2,
		Documents: docs,
		Artifacts: arts,
		Status:    status,
		Backends:  reg,
		RedisPing: orchestrator.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
		BlobPing:  blobs,
	}, orchestrator.Defaults{
		Device: cfg.Backends.Device,
		Lang:   cfg.Backends.Lang,
	})

	if !conv.Available() {
		log.Warn().Msg("office uploads will be rejected")
	}

	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}

// hasModel reports whether a pulled tag matches model, with or without
// the :latest style suffix.
func hasModel(tags []string, model string) bool {
	for _, tag := range tags {
		if tag == model || strings.HasPrefix(tag, model+":") {
			return true
		}
	}
	return false
}
