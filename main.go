package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/studybot/internal/ai"
	"github.com/example/studybot/internal/bot"
	"github.com/example/studybot/internal/broadcast"
	"github.com/example/studybot/internal/config"
	"github.com/example/studybot/internal/database"
	"github.com/example/studybot/internal/excel"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/internal/metrics"
	"github.com/example/studybot/internal/ocr"
	"github.com/example/studybot/internal/scheduler"
	"github.com/example/studybot/internal/server"
	"github.com/example/studybot/internal/tasks"
	"github.com/example/studybot/internal/users"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger("studybot", "info").Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.NewLogger("studybot", cfg.LogLevel)

	// Контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Загружаем пользователей: основной файл, затем резервная копия
	store := database.NewStore(cfg.Storage.DataFile, cfg.Storage.BackupFile, log.Child("store"),
		database.WithRecorder(collector))
	snapshot, source := store.Load()
	log.Info().Stringer("source", source).Int("users", len(snapshot)).Msg("user data loaded")

	dir := users.NewDirectory(snapshot, store, log.Child("users"), users.WithObserver(collector))
	quota := users.NewQuota(dir, cfg.Quota.FreeDailyLimit)
	subs := users.NewSubscriptions(dir)
	referrals := users.NewReferrals(dir)

	var (
		schedOpts  []scheduler.Option
		routerOpts []server.RouterOption
	)
	if cfg.Storage.MirrorDSN != "" {
		mirror, err := database.OpenMirror(cfg.Storage.MirrorDriver, cfg.Storage.MirrorDSN, log.Child("mirror"))
		if err != nil {
			log.Error().Err(err).Msg("mirror disabled")
		} else {
			defer mirror.Close()
			schedOpts = append(schedOpts, scheduler.WithMirror(mirror))
			routerOpts = append(routerOpts, server.WithMirror(mirror))
		}
	}

	autosave := scheduler.New(dir, cfg.AutosaveInterval, log.Child("autosave"), schedOpts...)
	if err := autosave.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start autosave")
	}
	defer autosave.Shutdown()

	status := server.New(cfg.Port, server.NewRouter(dir, metrics.Handler(registry), routerOpts...), log.Child("server"))
	status.Start()
	defer func() {
		if err := status.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("status server shutdown failed")
		}
	}()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error().Err(err).Msg("unable to create bot")
		return
	}
	log.Info().Str("account", api.Self.UserName).Msg("authorized")

	botConfig := bot.DefaultConfig()
	botConfig.OwnerIDs = cfg.OwnerIDs
	botConfig.PremiumDays = cfg.Quota.PremiumDays
	botConfig.PriceRUB = cfg.Payment.PriceRUB
	botConfig.Currency = cfg.Payment.Currency
	botConfig.ProviderToken = cfg.Payment.ProviderToken
	botConfig.ManualDetails = cfg.Payment.ManualDetails

	b := bot.New(botConfig, bot.Deps{
		API:         api,
		Directory:   dir,
		Quota:       quota,
		Subs:        subs,
		Referrals:   referrals,
		Tasks:       loadTasks(cfg.TaskBankPath, log),
		Broadcaster: broadcast.New(cfg.BroadcastRate, collector, log.Child("broadcast")),
		AI: ai.New(ai.Config{
			APIKey:  cfg.AI.APIKey,
			URL:     cfg.AI.URL,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		}, collector),
		OCR: ocr.New(ocr.Config{
			APIKey:   cfg.OCR.APIKey,
			URL:      cfg.OCR.URL,
			Language: cfg.OCR.Language,
			Timeout:  cfg.OCR.Timeout,
		}),
		Files:  bot.NewFiles(api, 30*time.Second),
		Logger: log.Child("bot"),
	})

	if err := b.Run(ctx); err != nil {
		log.Error().Err(err).Msg("bot stopped")
	}
	log.Info().Msg("shutting down")
}

// loadTasks reads the task bank file, falling back to the built-in bank
func loadTasks(path string, log *logger.Logger) *tasks.Bank {
	if path == "" {
		return tasks.Default()
	}

	result, err := excel.ImportTasks(excel.DefaultImportConfig(path))
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to import task bank, using built-in tasks")
		return tasks.Default()
	}
	for _, e := range result.Errors {
		log.Warn().Str("path", path).Msg(e)
	}
	if result.Imported == 0 {
		log.Warn().Str("path", path).Msg("task bank is empty, using built-in tasks")
		return tasks.Default()
	}

	log.Info().Int("imported", result.Imported).Int("skipped", result.Skipped).Msg("task bank imported")
	return tasks.New(tasks.DefaultSubjects, result.Entries)
}
