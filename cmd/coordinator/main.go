package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vivo-us/request-handler/internal/container"
	"github.com/vivo-us/request-handler/internal/instance"
)

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.InstanceIDPackage(injector)
	container.TransportPackage(injector)
	container.FleetBusPackage(injector)
	container.CipherPackage(injector)
	container.InstancePackage(injector)
	container.HTTPPackage(injector)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		registerPackages(injector, options)

		logger := do.MustInvoke[*zap.Logger](injector)

		var server *http.Server
		var group *errgroup.Group
		groupCtx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			router := do.MustInvoke[*chi.Mux](injector)
			handler := do.MustInvoke[*instance.RequestHandler](injector)

			// Invoke API to trigger route registration.
			_ = do.MustInvoke[huma.API](injector)

			eg, ctx := errgroup.WithContext(groupCtx)
			group = eg

			eg.Go(func() error {
				return handler.Start(ctx)
			})

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg.Go(func() error {
				logger.Info("coordinator starting", zap.Int("port", options.Port))

				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			handler := do.MustInvoke[*instance.RequestHandler](injector)
			if err := handler.Stop(shutdownCtx); err != nil {
				logger.Error("instance shutdown error", zap.Error(err))
			}

			if server != nil {
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			cancel()
			if group != nil {
				if err := group.Wait(); err != nil {
					logger.Error("errgroup wait error", zap.Error(err))
				}
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
		})
	})

	cli.Run()
}
