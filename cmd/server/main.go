package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portal/internal/api"
	"portal/internal/backend"
	"portal/internal/config"
	"portal/internal/entities"
	"portal/internal/instrument"
	"portal/internal/logger"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	// 2. Build the entity registry
	reg, err := entities.NewRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid entity registrations")
	}

	// 3. Open the configured provider
	opened, err := backend.Open(ctx, cfg, reg, log)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Provider).Msg("open provider")
	}
	defer opened.Close()

	// 4. Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	inst := instrument.NewPromInstrumenter(instrument.NewMetrics(promReg), logger.Component(log, "provider"))
	p := instrument.Wrap(opened.Provider, inst)

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "provider": p.Name()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	api.RegisterRoutes(app, api.NewHandler(p, reg))

	// 6. Serve until interrupted
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info().Msg("shutting down")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Str("addr", addr).Str("provider", p.Name()).Msg("starting server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
