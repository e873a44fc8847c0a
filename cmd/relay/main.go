package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/eywa-bot/line-relay/api"
	"github.com/eywa-bot/line-relay/bot"
	"github.com/eywa-bot/line-relay/line"
	"github.com/eywa-bot/line-relay/redis"
	"github.com/eywa-bot/line-relay/store"
)

type config struct {
	Addr string `env:"RELAY_ADDR" envDefault:"localhost:8080"`
	// DatabaseURL is a postgres:// DSN, or a SQLite file path for
	// single-node deployments.
	DatabaseURL string `env:"RELAY_DATABASE_URL" envDefault:"line-relay.db"`
	RedisAddr   string `env:"RELAY_REDIS_ADDR" envDefault:"localhost:6379"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("Could not parse configuration", "error", err.Error())
		os.Exit(1)
	}

	st, err := connectStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Could not connect to the database", "error", err.Error())
		os.Exit(1)
	}
	if err := st.CreateTables(ctx); err != nil {
		logger.Error("Could not create tables", "error", err.Error())
		os.Exit(1)
	}

	settings, err := redis.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("Could not connect to Redis", "error", err.Error())
		os.Exit(1)
	}

	client := &line.Client{
		Logger:      logger,
		Credentials: settings,
	}
	service := &bot.Service{
		Logger: logger,
		Groups: st.Groups(),
		Users:  st.Users(),
		Sender: client,
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error("Could not listen", "error", err)
		os.Exit(1)
	}

	api := &api.API{
		Logger:   logger,
		Bot:      service,
		Settings: settings,
		Sender:   client,
		Groups:   st.Groups(),
		Users:    st.Users(),
	}

	srv := &http.Server{
		Handler: api,
	}

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info("Ready to accept traffic", "address", cfg.Addr)
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		logger.Error("Could not start server", "error", err)
		os.Exit(1)
	}
}

func connectStore(ctx context.Context, dsn string) (*store.Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return store.ConnectPostgres(ctx, dsn)
	}
	return store.OpenSQLite(dsn)
}
