package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/pipeline"
	"server/internal/providers/shopify"
	"server/internal/providers/vertex"
	"server/internal/storage"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	jobs := repo.NewVideoJobRepository(runner)
	shopTokens := credentials.NewStore(runner)

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	creds, err := vertex.LoadCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load google credentials")
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	tokens := vertex.NewTokenSource(creds, httpClient)
	generator, err := vertex.NewClient(vertex.Options{
		ProjectID:  creds.ProjectID,
		Location:   cfg.VertexLocation,
		Model:      cfg.VeoModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure generation client")
	}

	commerce := func(shopDomain, accessToken string) (pipeline.Publisher, pipeline.ReadinessWaiter, error) {
		client, err := shopify.NewClient(shopify.Options{
			ShopDomain:  shopDomain,
			AccessToken: accessToken,
			APIVersion:  cfg.ShopifyAPIVersion,
			HTTPClient:  httpClient,
			Logger:      &logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return shopify.NewPublisher(client), shopify.NewPoller(client, cfg.ReadinessAttempts, cfg.ReadinessInterval), nil
	}

	pipe := pipeline.New(pipeline.Options{
		Repo:           jobs,
		Tokens:         tokens,
		Generator:      generator,
		Store:          fileStore,
		ShopTokens:     shopTokens,
		Commerce:       commerce,
		StorageBaseURL: cfg.StorageBaseURL,
		Retention:      cfg.StorageRetention,
		Logger:         logger,
	})

	geoResolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable")
	}
	var geoLookup middleware.CountryLookup
	if geoResolver != nil {
		geoLookup = geoResolver.CountryCode
	}

	app := &handlers.App{
		Jobs:     jobs,
		Store:    fileStore,
		Pipeline: pipe,
		Geo:      geoResolver,
		Video: handlers.VideoDefaults{
			AspectRatio:     cfg.VideoAspectRatio,
			DurationSeconds: cfg.VideoDurationSeconds,
		},
		Logger: logger,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		GeoLookup:       geoLookup,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
