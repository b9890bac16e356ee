package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/streamgateway/internal/bus"
	"github.com/cortexhub/streamgateway/internal/channel"
	"github.com/cortexhub/streamgateway/internal/channel/discord"
	"github.com/cortexhub/streamgateway/internal/channel/telegram"
	"github.com/cortexhub/streamgateway/internal/config"
	"github.com/cortexhub/streamgateway/internal/contextbuilder"
	"github.com/cortexhub/streamgateway/internal/history"
	"github.com/cortexhub/streamgateway/internal/inference"
	"github.com/cortexhub/streamgateway/internal/knowledge"
	"github.com/cortexhub/streamgateway/internal/logging"
	"github.com/cortexhub/streamgateway/internal/memory"
	"github.com/cortexhub/streamgateway/internal/orchestrator"
	"github.com/cortexhub/streamgateway/internal/persona"
	"github.com/cortexhub/streamgateway/internal/preferences"
	"github.com/cortexhub/streamgateway/internal/scheduler"
	"github.com/cortexhub/streamgateway/internal/server"
	"github.com/cortexhub/streamgateway/internal/session"
	"github.com/cortexhub/streamgateway/internal/transport/wschat"
	"github.com/cortexhub/streamgateway/internal/tts"
)

const (
	configPath = "config.yaml"
	version    = "1.0.0"
)

func main() {
	configFlag := flag.String("config", configPath, "Path to config.yaml")
	flag.Parse()

	logger := logging.WithComponent("main")
	logger.Info("starting streaming chatbot gateway", "version", version)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "host", cfg.Server.Host, "port", cfg.Server.Port)

	ctx := context.Background()

	personas, err := persona.New(dataDir(cfg, cfg.Resource.Data.Personas, "personas"))
	if err != nil {
		logger.Error("failed to open persona store", "error", err)
		os.Exit(1)
	}
	prefs, err := preferences.New(dataDir(cfg, cfg.Resource.Data.Sessions, "preferences"))
	if err != nil {
		logger.Error("failed to open preferences store", "error", err)
		os.Exit(1)
	}
	histStore, err := history.New(dataDir(cfg, cfg.Resource.Data.Sessions, "history"))
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	memStore, err := memory.New(dataDir(cfg, cfg.Resource.Data.Memories, "memories"))
	if err != nil {
		logger.Error("failed to open memory store", "error", err)
		os.Exit(1)
	}
	extractor := memory.NewExtractor(memStore)

	var webSearch *knowledge.WebSearch
	if cfg.WebSearch.Enabled {
		webSearch = knowledge.NewWebSearch(knowledge.WebSearchConfig{
			MaxResults: cfg.WebSearch.MaxResults,
			Timeout:    time.Duration(cfg.WebSearch.TimeoutSeconds) * time.Second,
		}, nil)
	}
	knowledgeFacade := knowledge.New(personas, memStore, webSearch)

	builder := contextbuilder.New(contextbuilder.Config{MaxTokens: cfg.System.MaxContextTokens})

	router, err := inference.NewRouter(ctx, cfg)
	if err != nil {
		logger.Error("failed to create inference router", "error", err)
		os.Exit(1)
	}
	for name, herr := range router.Health() {
		if herr != nil {
			logger.Error("inference engine unhealthy", "engine", name, "error", herr)
		} else {
			logger.Info("inference engine ok", "engine", name)
		}
	}

	var dlq *tts.DeadLetterQueue
	var busClient *bus.Client
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		dlq = tts.NewDeadLetterQueue(rdb)

		busClient, err = bus.NewClient(cfg.Redis.Addr, "gateway")
		if err != nil {
			logger.Warn("failed to connect sentence event bus, continuing without it", "error", err)
			busClient = nil
		} else {
			logger.Info("sentence event bus connected", "addr", cfg.Redis.Addr)
		}
	}

	synth, err := tts.NewHTTPSynthesizer(tts.HTTPSynthesizerConfig{
		BaseURL: cfg.Python.Services.TTSURL,
		Timeout: time.Duration(cfg.Python.Timeout.TTSTaskSeconds) * time.Second,
	})
	if err != nil {
		logger.Error("failed to build tts synthesizer", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(session.Config{})
	ttsPool := tts.NewPool(tts.Config{}, synth, sessions.IsCancelled, dlq)

	var publisher bus.Publisher
	if busClient != nil {
		publisher = busClient
	}

	orch := orchestrator.New(orchestrator.Config{
		Router:    router,
		Knowledge: knowledgeFacade,
		Builder:   builder,
		History:   histStore,
		Extractor: extractor,
		TTSPool:   ttsPool,
		Bus:       publisher,
		DefaultLane: cfg.Inference.DefaultLane,
		PromptCfg: knowledge.Config{
			BasePrompt:     cfg.AI.SystemPrompt.Base,
			FallbackPrompt: cfg.AI.SystemPrompt.Fallback,
			EnablePersona:  cfg.AI.SystemPrompt.EnablePersona,
		},
		WebSearch: cfg.WebSearch.Enabled,
	})

	sched := scheduler.New(memStore, sessions, scheduler.Config{
		MaxIdle: cfg.System.GetSessionTimeout(),
	})
	sched.Start()
	logger.Info("scheduler started")

	wsHandler := wschat.New(wschat.Config{
		Sessions:     sessions,
		Prefs:        prefs,
		Orch:         orch,
		PingInterval: time.Duration(cfg.System.WebSocket.PingIntervalSeconds) * time.Second,
	})

	srv := server.New(cfg, router, sessions, personas, prefs, histStore)
	srv.Handle("/ws/chat", wsHandler)

	bridgeCtx, cancelBridges := context.WithCancel(ctx)
	var bridges []*channel.Bridge
	if cfg.Channels.Discord.Enabled {
		b := channel.NewBridge(discord.NewDiscordAdapter(cfg.Channels.Discord.Token), sessions, orch, "")
		bridges = append(bridges, b)
		go runBridge(bridgeCtx, logger, b)
	}
	if cfg.Channels.Telegram.Enabled {
		b := channel.NewBridge(telegram.NewTelegramAdapter(cfg.Channels.Telegram.Token), sessions, orch, "")
		bridges = append(bridges, b)
		go runBridge(bridgeCtx, logger, b)
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("stopping channel bridges")
	cancelBridges()

	logger.Info("stopping sentence event bus")
	if busClient != nil {
		if err := busClient.Close(); err != nil {
			logger.Error("failed to close bus", "error", err)
		}
	}

	logger.Info("stopping scheduler")
	sched.Stop()

	logger.Info("stopping tts pool")
	ttsPool.Close()

	logger.Info("stopping http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func runBridge(ctx context.Context, logger *logging.Logger, b *channel.Bridge) {
	if err := b.Run(ctx); err != nil {
		logger.Error("channel bridge stopped with error", "error", err)
	}
}

// dataDir joins the configured base path with a resource subdirectory,
// falling back to a sensible default when the config omits it.
func dataDir(cfg *config.Config, configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("%s/%s", cfg.Resource.BasePath, fallback)
}
