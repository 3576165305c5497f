package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/api"
	"github.com/npezzotti/securechat/internal/config"
	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/filestore"
	"github.com/npezzotti/securechat/internal/purge"
	"github.com/npezzotti/securechat/internal/server"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/stats"
)

// stringSliceFlag holds a comma separated list. Values given on the command
// line replace the environment default instead of extending it.
type stringSliceFlag struct {
	values []string
	set    bool
}

func (s *stringSliceFlag) String() string {
	return strings.Join(s.values, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	if !s.set {
		s.values = nil
		s.set = true
	}
	s.values = append(s.values, config.SplitList(value)...)
	return nil
}

var (
	addr                string
	dsn                 string
	mongoURI            string
	mongoDatabase       string
	signingKey          string
	allowedOrigins      stringSliceFlag
	adminEmails         stringSliceFlag
	registrationEnabled bool
	tokenTTL            time.Duration
	purgeInterval       time.Duration
	maxUploadBytes      int64
)

func main() {
	logger := log.New(os.Stderr, "[securechat] ", log.LstdFlags)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal("load .env:", err)
	}

	allowedOrigins.values = config.SplitList(os.Getenv("ALLOWED_ORIGINS"))
	adminEmails.values = config.SplitList(os.Getenv("ADMIN_EMAILS"))

	flag.StringVar(&addr, "addr", config.GetEnvOrDefault("ADDR", ":8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.GetEnvOrDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=securechat sslmode=disable"), "database connection string")
	flag.StringVar(&mongoURI, "mongo-uri", config.GetEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"), "mongodb connection string for file storage")
	flag.StringVar(&mongoDatabase, "mongo-db", config.GetEnvOrDefault("MONGO_DATABASE", config.DefaultMongoDatabase), "mongodb database for file storage")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("JWT_SIGNING_KEY"), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Var(&adminEmails, "admin-emails", "comma-separated list of emails granted admin on registration")
	flag.BoolVar(&registrationEnabled, "registration-enabled", config.GetEnvBool("REGISTRATION_ENABLED", true), "allow new registrations until an admin changes it")
	flag.DurationVar(&tokenTTL, "token-ttl", config.GetEnvDuration("TOKEN_TTL", config.DefaultTokenTTL), "session token lifetime")
	flag.DurationVar(&purgeInterval, "purge-interval", config.GetEnvDuration("PURGE_INTERVAL", config.DefaultPurgeInterval), "how often expired messages are deleted")
	flag.Int64Var(&maxUploadBytes, "max-upload-bytes", config.GetEnvInt64("MAX_UPLOAD_BYTES", config.DefaultMaxUploadBytes), "maximum accepted upload size")
	flag.Parse()

	cfg, err := config.NewConfig(config.Params{
		ServerAddr:          addr,
		DatabaseDSN:         dsn,
		MongoURI:            mongoURI,
		MongoDatabase:       mongoDatabase,
		SigningSecret:       signingKey,
		AllowedOrigins:      allowedOrigins.values,
		AdminEmails:         adminEmails.values,
		RegistrationEnabled: registrationEnabled,
		TokenTTL:            tokenTTL,
		PurgeInterval:       purgeInterval,
		MaxUploadBytes:      maxUploadBytes,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	repo, err := database.NewPgSecureChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := repo.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	files, err := filestore.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	connectCancel()
	if err != nil {
		logger.Fatal("file store:", err)
	}

	router := mux.NewRouter()

	statsUpdater := stats.NewStatsUpdater(router)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	svc := service.New(logger, repo, service.Options{
		AdminEmails:         cfg.AdminEmails,
		RegistrationEnabled: cfg.RegistrationEnabled,
	})

	chatServer, err := server.NewChatServer(logger, svc, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}
	go chatServer.Run()

	srv := api.NewSecureChatApp(router, logger, chatServer, svc, files, cfg)

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	defer stopPurge()
	go purge.NewSweeper(logger, svc, cfg.PurgeInterval, statsUpdater).Run(purgeCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	stopPurge()

	if err := files.Close(shutDownCtx); err != nil {
		logger.Println("file store close:", err)
	}

	logger.Println("shutdown complete")
}
