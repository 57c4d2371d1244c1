package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/config"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/database"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/mailer"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/observability"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/otp"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/server"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	serviceName   = "jotter-api"
	tokenIssuer   = "jotter-auth"
	tokenAudience = "jotter-api"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Jotter notes backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("cors-origins", defaults.GetStringSlice("http.cors_origins"), "Allowed CORS origins")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL connection string")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("otp-backend", defaults.GetString("otp.backend"), "One-time code store (memory, redis)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis code store")
	cmd.PersistentFlags().String("smtp-host", defaults.GetString("smtp.host"), "SMTP relay host; codes are logged when unset")
	cmd.PersistentFlags().String("otlp-endpoint", defaults.GetString("telemetry.otlp_endpoint"), "OTLP gRPC endpoint for traces")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.cors_origins", "cors-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "otp.backend", "otp-backend")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "smtp.host", "smtp-host")
	bindFlag(cmd, "telemetry.otlp_endpoint", "otlp-endpoint")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, appConfig.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	userStore, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	var googleVerifier server.GoogleVerifier
	if appConfig.GoogleClientID != "" {
		verifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			Audience:       appConfig.GoogleClientID,
			JWKSURL:        appConfig.GoogleJWKSURL,
			AllowedIssuers: auth.GoogleIssuers,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		googleVerifier = verifier
	}
	if appConfig.GoogleTrustClientAssertions {
		logger.Warn("google login accepts unverified client assertions")
	}

	codeStore, closeCodeStore, err := buildCodeStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeCodeStore()

	sender, err := buildSender(appConfig, logger)
	if err != nil {
		return err
	}

	gateway, err := accounts.NewService(accounts.ServiceConfig{
		Users:    userStore,
		Sessions: tokenManager,
		Codes:    codeStore,
		Sender:   sender,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Publisher:  realtime,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:              gateway,
		GoogleVerifier:        googleVerifier,
		TrustClientAssertions: appConfig.GoogleTrustClientAssertions,
		TokenValidator:        tokenManager,
		NotesService:          notesService,
		Users:                 userStore,
		Realtime:              realtime,
		Metrics:               observability.NewProm(registry),
		Health: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		CORSOrigins:           appConfig.CORSOrigins,
		AuthRequestsPerMinute: appConfig.AuthRequestsPerMinute,
		ServiceName:           serviceName,
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildCodeStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (otp.Store, func(), error) {
	if appConfig.OTPBackend != config.OTPBackendRedis {
		logger.Info("one-time codes kept in process memory")
		return otp.NewMemoryStore(otp.MemoryConfig{TTL: appConfig.OTPTTL}), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	store, err := otp.NewRedisStore(otp.RedisConfig{Client: client, TTL: appConfig.OTPTTL})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("one-time codes kept in redis", zap.String("address", appConfig.RedisAddress))
	return store, func() { _ = client.Close() }, nil
}

func buildSender(appConfig config.AppConfig, logger *zap.Logger) (accounts.CodeSender, error) {
	if !appConfig.SMTP.Enabled() {
		logger.Warn("smtp not configured; one-time codes will be written to the log")
		return mailer.NewLogSender(logger), nil
	}
	sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     appConfig.SMTP.Host,
		Port:     appConfig.SMTP.Port,
		Username: appConfig.SMTP.Username,
		Password: appConfig.SMTP.Password,
		From:     appConfig.SMTP.From,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}
