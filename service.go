package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"ewintr.nl/scribe/downloader"
	"ewintr.nl/scribe/extractor"
	"ewintr.nl/scribe/handler"
	"ewintr.nl/scribe/metadata"
	"ewintr.nl/scribe/progress"
	"ewintr.nl/scribe/storage"
	"ewintr.nl/scribe/transcriber"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var (
		repo   storage.ExtractionRepository
		usage  storage.UsageStore
		pinger handler.Pinger
	)
	switch driver := getParam("STORAGE_DRIVER", "memory"); driver {
	case "postgres":
		postgres, err := storage.NewPostgres(storage.PostgresInfo{
			Host:     getParam("POSTGRES_HOST", "localhost"),
			Port:     getParam("POSTGRES_PORT", "5432"),
			User:     getParam("POSTGRES_USER", "scribe"),
			Password: getParam("POSTGRES_PASSWORD", "scribe"),
			Database: getParam("POSTGRES_DB", "scribe"),
		})
		if err != nil {
			logger.Error("unable to connect to postgres", slog.Any("error", err))
			os.Exit(1)
		}
		repo, usage, pinger = postgres, postgres, postgres
	case "sqlite":
		sqlite, err := storage.NewSQLite(getParam("SQLITE_PATH", "scribe.db"))
		if err != nil {
			logger.Error("unable to open sqlite database", slog.Any("error", err))
			os.Exit(1)
		}
		repo, usage, pinger = sqlite, sqlite, sqlite
	case "memory":
		mem := storage.NewMemory()
		repo, usage = mem, mem
	default:
		logger.Error("unknown storage driver", slog.String("driver", driver))
		os.Exit(1)
	}

	if addr := getParam("REDIS_ADDR", ""); addr != "" {
		redis, err := storage.NewRedis(addr)
		if err != nil {
			logger.Error("unable to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		usage = redis
	}

	var meta downloader.MetadataFetcher
	if key := getParam("YOUTUBE_API_KEY", ""); key != "" {
		ytClient, err := youtube.NewService(ctx, option.WithAPIKey(key))
		if err != nil {
			logger.Error("unable to create youtube service", slog.Any("error", err))
			os.Exit(1)
		}
		meta = metadata.NewYouTubeAPI(ytClient)
	}

	downloadTimeout, err := time.ParseDuration(getParam("DOWNLOAD_TIMEOUT", "5m"))
	if err != nil {
		logger.Error("unable to parse download timeout", slog.Any("error", err))
		os.Exit(1)
	}
	ytdlp := downloader.NewYTDLP(downloader.Config{
		Bin:     getParam("YTDLP_BIN", "yt-dlp"),
		WorkDir: getParam("WORK_DIR", os.TempDir()),
		Timeout: downloadTimeout,
		Meta:    meta,
	}, logger)

	transcribeTimeout, err := time.ParseDuration(getParam("TRANSCRIBE_TIMEOUT", "10m"))
	if err != nil {
		logger.Error("unable to parse transcribe timeout", slog.Any("error", err))
		os.Exit(1)
	}
	engine := transcriber.NewOpenAI(transcriber.Config{
		APIKey:  getParam("OPENAI_API_KEY", ""),
		BaseURL: getParam("OPENAI_BASE_URL", ""),
		Model:   getParam("OPENAI_AUDIO_MODEL", ""),
		Timeout: transcribeTimeout,
	}, logger)

	var indexer *extractor.Indexer
	if host := getParam("WEAVIATE_HOST", ""); host != "" {
		weaviate, err := storage.NewWeaviate(host, getParam("WEAVIATE_APIKEY", ""), getParam("OPENAI_API_KEY", ""))
		if err != nil {
			logger.Error("unable to connect to weaviate", slog.Any("error", err))
			os.Exit(1)
		}
		indexer = extractor.NewIndexer(weaviate, logger)
		go indexer.Run(ctx)
		logger.Info("transcript index enabled", slog.String("host", host))
	}

	guestLimit, err := strconv.Atoi(getParam("GUEST_DAILY_LIMIT", "3"))
	if err != nil {
		logger.Error("unable to parse guest daily limit", slog.Any("error", err))
		os.Exit(1)
	}
	guestMaxDuration, err := strconv.Atoi(getParam("GUEST_MAX_DURATION", "600"))
	if err != nil {
		logger.Error("unable to parse guest max duration", slog.Any("error", err))
		os.Exit(1)
	}
	userLimit, err := strconv.Atoi(getParam("USER_DAILY_LIMIT", "50"))
	if err != nil {
		logger.Error("unable to parse user daily limit", slog.Any("error", err))
		os.Exit(1)
	}
	tierLimits, err := parseTierLimits(getParam("TIER_LIMITS", "free:10,pro:0"))
	if err != nil {
		logger.Error("unable to parse tier limits", slog.Any("error", err))
		os.Exit(1)
	}
	policy := extractor.Policy{
		GuestDailyLimit:  guestLimit,
		GuestMaxDuration: float64(guestMaxDuration),
		UserDailyLimit:   userLimit,
		TierLimits:       tierLimits,
	}

	registry := progress.NewRegistry()
	orchestrator := extractor.NewOrchestrator(extractor.Dependencies{
		Acquirer: ytdlp,
		Engine:   engine,
		Usage:    usage,
		Repo:     repo,
		Indexer:  indexer,
		Notifier: registry,
	}, policy, logger)

	port, err := strconv.Atoi(getParam("API_PORT", "8080"))
	if err != nil {
		logger.Error("invalid port", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), handler.NewServer(orchestrator, repo, registry, pinger, logger)); err != nil {
			logger.Error("http server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()
	logger.Info("http server started", slog.Int("port", port))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)
	<-done
	cancel()

	logger.Info("service stopped")
}

func getParam(param, def string) string {
	if val, ok := os.LookupEnv(param); ok {
		return val
	}

	return def
}

// parseTierLimits reads a "tier:limit,tier:limit" list. A limit of zero
// means unlimited.
func parseTierLimits(s string) (map[string]int, error) {
	limits := map[string]int{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed tier limit %q", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("malformed tier limit %q: %w", pair, err)
		}
		limits[strings.TrimSpace(name)] = limit
	}

	return limits, nil
}
