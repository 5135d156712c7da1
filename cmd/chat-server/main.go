package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	env "github.com/Netflix/go-env"
	"go.uber.org/zap"

	"chatcore/internal/server"
)

type config struct {
	Addr             string        `env:"CHAT_ADDR,default=:8080"`
	UserListInterval time.Duration `env:"CHAT_USERLIST_INTERVAL,default=30s"`
	Debug            bool          `env:"CHAT_DEBUG,default=false"`
}

func main() {
	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	srv := server.New(server.Config{
		Addr:             cfg.Addr,
		UserListInterval: cfg.UserListInterval,
		Logger:           logger,
	})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("shutting down", zap.Stringer("signal", sig))
		srv.Stop()
	}

	logger.Info("chat server stopped")
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
