package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/container"
	"github.com/vivo-us/request-handler/internal/instance"
)

func main() {
	opts := &container.Options{
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	injector := do.New()
	do.ProvideValue(injector, opts)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.InstanceIDPackage(injector)
	container.TransportPackage(injector)
	container.FleetBusPackage(injector)
	container.CipherPackage(injector)
	container.InstancePackage(injector)

	logger := do.MustInvoke[*zap.Logger](injector)
	handler := do.MustInvoke[*instance.RequestHandler](injector)

	ctx, cancel := context.WithCancel(context.Background())

	if err := handler.Start(ctx); err != nil {
		logger.Fatal("failed to start instance", zap.Error(err))
	}

	logger.Info("worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := handler.Stop(stopCtx); err != nil {
		logger.Error("instance shutdown error", zap.Error(err))
	}

	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultValue
}
