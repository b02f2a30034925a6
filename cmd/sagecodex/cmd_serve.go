package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/user/sagecodex/internal/orchestrator"
	"github.com/user/sagecodex/internal/server"
	"github.com/user/sagecodex/internal/store"
	"github.com/user/sagecodex/internal/sweeper"
	"github.com/user/sagecodex/internal/tools"
	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sagecodex daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "sagecodex.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	log := setupLogging(cfg)

	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required; set it in the config file or SAGECODEX_JWT_SECRET")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := store.NewSessionStore(cfg.DataDir)
	messages := store.NewMessageStore(cfg.DataDir)
	states := store.NewStateStore(cfg.DataDir)
	usage := store.NewUsageLog(cfg.DataDir)

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})

	// Tool registry
	registry := tools.NewRegistry()
	if err := tools.RegisterAll(registry, states); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	gate := orchestrator.NewGate(int64(cfg.MaxConcurrent))
	orch := orchestrator.New(provider, sessions, messages, states, usage,
		registry, gate, cfg.LLM.Model, cfg.MaxToolRounds, log)

	reg := prometheus.NewRegistry()
	srv := server.New(orch, sessions, messages, states, reg, server.Options{
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
	}, log)

	sweep := sweeper.New(sessions,
		time.Duration(cfg.SessionTTLHours)*time.Hour, cfg.SweepSchedule, log)
	if err := sweep.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweep.Stop()

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("data_dir", cfg.DataDir).
			Str("model", cfg.LLM.Model).
			Int("max_concurrent", cfg.MaxConcurrent).
			Int("max_tool_rounds", cfg.MaxToolRounds).
			Msg("sagecodex started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
