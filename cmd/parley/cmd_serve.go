package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/config"
	"github.com/user/parley/internal/convo"
	"github.com/user/parley/internal/dispatch"
	"github.com/user/parley/internal/dispatch/tools"
	"github.com/user/parley/internal/greeting"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/room"
	"github.com/user/parley/internal/session"
	"github.com/user/parley/pkg/llm"
	"github.com/user/parley/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parley room agent",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "parley.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	// Prompt builder
	builder, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create prompt builder: %w", err)
	}

	// Tool registry
	registry := dispatch.NewRegistry()
	registry.Register(tools.NewWeather())
	registry.Register(tools.NewCodeRunner())
	if cfg.News.APIKey != "" {
		registry.Register(tools.NewNewsSearch(cfg.News.APIKey, cfg.News.BaseURL))
	}
	if cfg.Knowledge.Endpoint != "" {
		registry.Register(tools.NewKnowledgeSearch(cfg.Knowledge.Endpoint, cfg.Knowledge.Index, cfg.Knowledge.APIKey))
	}
	if cfg.Database.Path != "" {
		dbTool, err := tools.NewDatabaseQuery(cfg.Database.Path, provider)
		if err != nil {
			return fmt.Errorf("open tool database: %w", err)
		}
		registry.Register(dbTool)
	}
	registry.Seal()

	greeter, err := greeting.NewPicker(cfg.GreetingsFile)
	if err != nil {
		return fmt.Errorf("load greetings: %w", err)
	}

	orch := session.New(
		provider,
		builder,
		dispatch.NewDispatcher(registry, dispatch.DefaultTimeout),
		convo.New(cfg.HistoryCapacity),
		nil, // utterer is the room server, set below
		config.NewPersonaFile(cfg.PersonaFile),
		greeter,
		session.Options{
			MaxToolRounds:      cfg.MaxToolRounds,
			MaxConcurrentTurns: int64(cfg.MaxConcurrent),
		},
	)

	roomServer := room.NewServer(orch)
	orch.SetUtterer(roomServer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	httpServer := &http.Server{
		Addr:    cfg.Room.ListenAddr,
		Handler: roomServer.Router(),
	}
	go func() {
		slog.Info("room server started", "listen", cfg.Room.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("room server error", "error", err)
		}
	}()

	slog.Info("parley started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tools", registry.Names(),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("room server shutdown", "error", err)
	}
	return nil
}
