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
	"github.com/podlab/solid-oauth-lab/pkg/prettylog"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	jwksURL := util.GetEnv("IDP_JWKS_URL", "http://localhost:8090/jwks")

	guard, err := gateway.NewRemoteGuard(context.Background(), jwksURL)
	if err != nil {
		log.Fatal(err)
	}

	options := []gateway.Option{
		gateway.WithGuard(guard),
	}

	// without a backend only the local routes are served
	if backendURL := os.Getenv("BACKEND_URL"); backendURL != "" {
		options = append(options, gateway.WithBackend(backendURL))
	}

	s, err := gateway.NewServer(options...)
	if err != nil {
		log.Fatal(err)
	}

	root := echo.New()
	root.Use(middleware.Recover())
	s.MountRoutes(root.Group(""))

	address := util.GetEnv("GATEWAY_ADDRESS", ":8091")
	slog.Info("Starting resource gateway", "address", address, "jwks_url", jwksURL)
	log.Fatal(root.Start(address))
}
