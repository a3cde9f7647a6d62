package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speechkit-bot/config"
	"speechkit-bot/internal/account"
	"speechkit-bot/internal/api"
	"speechkit-bot/internal/auth"
	"speechkit-bot/internal/credential"
	"speechkit-bot/internal/gpt"
	"speechkit-bot/internal/logging"
	"speechkit-bot/internal/metrics"
	"speechkit-bot/internal/proxy"
	"speechkit-bot/internal/quota"
	"speechkit-bot/internal/router"
	"speechkit-bot/internal/speechkit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to config.yaml")
	issueToken := flag.Int64("issue-admin-token", 0, "print an admin API token for the given chat user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != 0 {
		if err := printAdminToken(cfg, *issueToken); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	out, err := logging.OpenFile(cfg.Server.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()
	log := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat, out)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func printAdminToken(cfg *config.Config, adminID int64) error {
	if cfg.Admin.JWTSecret == "" {
		return errors.New("admin.jwt_secret is not set")
	}
	if !cfg.IsAdmin(adminID) {
		return fmt.Errorf("user %d is not listed in admin.user_ids", adminID)
	}
	ttl := time.Duration(cfg.Admin.TokenTTL) * time.Minute
	tok, err := auth.GenerateToken(adminID, []byte(cfg.Admin.JWTSecret), ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	storage, err := account.NewStorage(ctx, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer storage.Close()

	catalog, err := account.LoadCatalog(cfg.Storage.VoicesPath)
	if err != nil {
		log.Warn("voices file unavailable, using built-in catalog", "path", cfg.Storage.VoicesPath, "error", err)
		catalog = account.NewCatalog(account.DefaultVoices)
	}

	ceilings := account.Ceilings{TTS: cfg.Limits.TTS, STT: cfg.Limits.STT, GPT: cfg.Limits.GPT}
	accounts := account.NewManager(storage, catalog, account.Options{
		Ceilings: ceilings,
		Defaults: account.Preferences{
			Voice:   cfg.Defaults.Voice,
			Emotion: cfg.Defaults.Emotion,
			Speed:   cfg.Defaults.Speed,
		},
		MaxUsers:        cfg.Limits.MaxUsers,
		MinSpeed:        cfg.Limits.MinSpeed,
		MaxSpeed:        cfg.Limits.MaxSpeed,
		MaxHistoryTurns: cfg.Chat.MaxHistoryTurns,
	}, log)

	var store credential.Store
	switch cfg.Credential.Backend {
	case config.BackendRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Credential.RedisAddr})
		defer rdb.Close()
		store = credential.NewRedisStore(rdb, cfg.Credential.RedisKey)
	default:
		store = credential.NewFileStore(cfg.Storage.CredentialPath)
	}
	tokens := credential.NewCache(store,
		credential.NewMetadataRefresher(cfg.Upstream.IAMEndpoint, cfg.UpstreamTimeout()), log)

	tts := speechkit.NewClient(cfg.Upstream.TTSURL, cfg.Upstream.STTURL, cfg.Upstream.FolderID, log,
		speechkit.WithLanguage(cfg.Upstream.Language),
		speechkit.WithTopic(cfg.Upstream.STTTopic),
		speechkit.WithHTTPTimeout(cfg.UpstreamTimeout()),
	)
	llm := gpt.NewClient(gpt.Endpoints{
		Completion:         cfg.Upstream.CompletionURL,
		Tokenize:           cfg.Upstream.TokenizeURL,
		TokenizeCompletion: cfg.Upstream.TokenizeCompletionURL,
	}, log,
		gpt.WithTemperature(cfg.Chat.Temperature),
		gpt.WithMaxTokens(cfg.Chat.MaxTokens),
		gpt.WithHTTPTimeout(cfg.UpstreamTimeout()),
		gpt.WithFolderID(cfg.Upstream.FolderID),
	)
	models := router.NewRouter(cfg.Upstream.FolderID, cfg.Chat.Model, cfg.Chat.Routes)

	meter := quota.NewMeter(accounts, ceilings, log)
	calc := quota.NewCalculator(accounts, ceilings, quota.Rates{
		GPTPer1KTokens: cfg.Rates.GPTPer1KTokens,
		STTPerBlock:    cfg.Rates.STTPerBlock,
		TTSPer1MChars:  cfg.Rates.TTSPer1MChars,
	}, log)
	tracker := quota.NewTracker(storage.DB())
	counter := quota.NewTokenCounter(cfg.Storage.TokenCounterPath)

	svc := proxy.NewService(proxy.Deps{
		Accounts: accounts,
		Meter:    meter,
		Tokens:   tokens,
		TTS:      tts,
		STT:      tts,
		LLM:      llm,
		Models:   models,
		Counter:  counter,
	}, proxy.Limits{
		MaxTextLength:   cfg.Limits.MaxTextLength,
		MaxAudioSeconds: cfg.Limits.MaxAudioSeconds,
		STTBlockSeconds: cfg.Limits.STTBlockSeconds,
	}, cfg.Chat.SystemPrompt, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), proxy.RequestID())

	proxy.NewHandler(svc, log).RegisterRoutes(r)
	api.NewHandler(accounts, meter, calc, tracker, counter, models, cfg, log).RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr, "max_users", cfg.Limits.MaxUsers, "credential_backend", cfg.Credential.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
