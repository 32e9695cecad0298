package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/podlab/solid-oauth-lab/pkg/gateway"
	"github.com/podlab/solid-oauth-lab/pkg/podserver"
	"github.com/podlab/solid-oauth-lab/pkg/prettylog"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	baseURL := util.GetEnv("POD_BASE_URL", "http://localhost:8092")

	options := []podserver.Option{
		podserver.WithBaseURL(baseURL),
	}

	// resources are guarded only when a jwks source is configured
	if jwksURL := os.Getenv("IDP_JWKS_URL"); jwksURL != "" {
		guard, err := gateway.NewRemoteGuard(context.Background(), jwksURL)
		if err != nil {
			log.Fatal(err)
		}
		options = append(options, podserver.WithAuthMiddleware(guard.Middleware(true)))
	}

	s, err := podserver.NewServer(options...)
	if err != nil {
		log.Fatal(err)
	}

	root := echo.New()
	root.Use(middleware.Recover())
	s.MountRoutes(root.Group(""))

	address := util.GetEnv("POD_ADDRESS", ":8092")
	slog.Info("Starting pod server", "address", address, "base_url", baseURL)
	log.Fatal(root.Start(address))
}
