package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grid/explainer/internal/api"
	"github.com/grid/explainer/internal/config"
	"github.com/grid/explainer/internal/db"
	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/export"
	"github.com/grid/explainer/internal/generate"
	"github.com/grid/explainer/internal/jobs"
	"github.com/grid/explainer/internal/logging"
	"github.com/grid/explainer/internal/manim"
	"github.com/grid/explainer/internal/media"
	"github.com/grid/explainer/internal/metrics"
	"github.com/grid/explainer/internal/notify"
	"github.com/grid/explainer/internal/pipeline"
	"github.com/grid/explainer/internal/playback"
	"github.com/grid/explainer/internal/prompt"
	"github.com/grid/explainer/internal/speech"
	"github.com/grid/explainer/internal/ui"
)

var Version = "0.1.0"

const usage = `usage:
  explainer                 start the agent (API, runner, tray)
  explainer run "<query>"   explain one query and print the outcome as JSON
  explainer doctor          report which external tools are available`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "run":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		var ok bool
		ok, err = runOnce(args[0])
		if err == nil && !ok {
			os.Exit(1)
		}
	case "doctor":
		err = doctor()
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

// stack is everything a run needs, built once from configuration.
type stack struct {
	controller *pipeline.Controller
	doctor     *engine.CachedDoctor
}

func loadConfig() (*config.EnvConfig, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LogLevel()), nil
}

func probeTargets(cfg config.Config) []engine.ProbeTarget {
	targets := []engine.ProbeTarget{
		{Role: engine.RoleRender, Tool: cfg.ManimPath(), VersionFlag: "--version"},
		{Role: engine.RoleMux, Tool: cfg.FFmpegPath(), VersionFlag: "-version"},
		{Role: engine.RoleProbe, Tool: cfg.FFprobePath(), VersionFlag: "-version"},
	}
	if cfg.TTSEngine() == config.TTSEngineCommand {
		targets = append(targets, engine.ProbeTarget{Role: engine.RoleSpeech, Tool: cfg.TTSCommand(), VersionFlag: "--version"})
	}
	return targets
}

func newDoctor(cfg config.Config, runner engine.Runner, logger *slog.Logger) *engine.CachedDoctor {
	return engine.NewCachedDoctor(engine.NewDoctor(runner, probeTargets(cfg), logger), logger)
}

func newSpeech(cfg config.Config, runner engine.Runner, logger *slog.Logger) speech.Engine {
	if cfg.TTSEngine() == config.TTSEngineCommand {
		return speech.NewCommand(runner, cfg.TTSCommand(), cfg.TTSArgs(), "", logger)
	}
	var opts []speech.GTTSOption
	if cfg.TTSURL() != "" {
		opts = append(opts, speech.WithGTTSBaseURL(cfg.TTSURL()))
	}
	return speech.NewGTTS(cfg.TTSLang(), logger, opts...)
}

// buildStack wires the engines into a controller. observer may be nil.
func buildStack(ctx context.Context, cfg config.Config, observer pipeline.Observer, logger *slog.Logger) (*stack, error) {
	runner := engine.NewSubprocessRunner(logging.WithComponent(logger, "engine"))

	builder, err := prompt.NewBuilder(cfg.GeminiModel())
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt template: %w", err)
	}

	gen, err := generate.NewGemini(ctx, generate.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey(),
		BaseURL: cfg.GeminiBaseURL(),
	}, logging.WithComponent(logger, "generate"))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client (set %s): %w", config.EnvGeminiAPIKeyShared, err)
	}

	publisher, err := export.NewPublisher(cfg.OutputDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output dir: %w", err)
	}

	ff := media.NewFFmpeg(runner, cfg.FFmpegPath(), cfg.FFprobePath(), logger)

	controller, err := pipeline.NewController(pipeline.Config{
		WorkDir:  cfg.WorkDir(),
		Parallel: cfg.ParallelStages(),
		Timeouts: pipeline.Timeouts{
			Generation: cfg.TimeoutGeneration(),
			Render:     cfg.TimeoutRender(),
			Narration:  cfg.TimeoutNarration(),
			Mux:        cfg.TimeoutMux(),
		},
	}, pipeline.Deps{
		Builder:   builder,
		Generator: gen,
		Animator:  manim.NewRenderer(runner, cfg.ManimPath(), cfg.ManimQuality(), logger),
		Speech:    newSpeech(cfg, runner, logger),
		Encoder:   ff,
		Prober:    ff,
		Publisher: publisher,
		Observer:  observer,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &stack{
		controller: controller,
		doctor:     newDoctor(cfg, runner, logger),
	}, nil
}

func serve() error {
	startTime := time.Now()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting grid explainer agent", "version", Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 GRID EXPLAINER AGENT v%-19s ║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	recorder := jobs.NewStageRecorder(repo, m, logger)
	st, err := buildStack(ctx, cfg, recorder, logger)
	if err != nil {
		return err
	}

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	if caps, err := st.doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("engine capabilities detected",
			"render", caps.HasRender,
			"mux", caps.HasMux,
			"probe", caps.HasProbe,
			"speech", caps.HasSpeech,
		)
	}
	initCancel()

	svc := jobs.NewService(repo, logger)
	runner := jobs.NewRunner(repo, st.controller, notify.New(cfg.WebhookURL(), logger), m, logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Version:   Version,
		Service:   svc,
		Runner:    runner,
		Config:    repo,
		Doctor:    st.doctor,
		Playback:  playback.NewServer(cfg.OutputDir(), logger),
		Metrics:   m.Handler(),
		Logger:    logger,
		StartTime: startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner: runner,
			APIURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Port()),
			Logger: logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
