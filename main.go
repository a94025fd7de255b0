package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stylebird/image/diffusion"
	"stylebird/imagestore"
	"stylebird/irc"
	"stylebird/logger"
	"stylebird/pipeline"
	"stylebird/scheduler"
	"stylebird/settings"
	"stylebird/text/gemini"
	"stylebird/text/openai"
)

func main() {
	cfg, err := settings.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)
	logger.Info("Starting stylebird")

	store, err := imagestore.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("Failed to open image store", "path", cfg.Store.Path, "error", err)
	}
	defer store.Close()

	var describer pipeline.Describer
	switch cfg.Prompt.Provider {
	case "gemini":
		describer = gemini.NewDescriber(cfg.Gemini)
	default:
		describer = openai.NewDescriber(cfg.OpenAI)
	}
	logger.Info("Prompt provider selected", "provider", cfg.Prompt.Provider)

	generator := diffusion.New(cfg.ComfyUi)
	pipe := pipeline.New(store, describer, generator)

	client := irc.NewClient(cfg.Irc)
	notifier := irc.NewNotifier(client, cfg.Birdhole)

	sched := scheduler.New(scheduler.Config{
		MaxQueueSize:       cfg.Scheduler.MaxQueueSize,
		AverageJobDuration: time.Duration(cfg.Scheduler.AverageJobSeconds) * time.Second,
		PauseBetweenJobs:   time.Duration(cfg.Scheduler.PauseSeconds) * time.Second,
		JobTimeout:         time.Duration(cfg.Scheduler.JobTimeoutSeconds) * time.Second,
	}, pipe, notifier, store)

	bot := irc.NewBot(cfg, client, sched, store, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		cancel()
		bot.Close()
	}()

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("IRC connection failed", "error", err)
	}
}
