package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/podlab/solid-oauth-lab/pkg/broker"
	"github.com/podlab/solid-oauth-lab/pkg/issuer"
	"github.com/podlab/solid-oauth-lab/pkg/prettylog"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	baseURL := util.GetEnv("IDP_BASE_URL", "http://localhost:8090")

	iss, err := issuer.NewIssuer(
		issuer.WithIssuerURL(baseURL),
		issuer.WithSigningKeyFromJWK(os.Getenv("SIGNING_KEY_PATH"), issuer.UseRandomKeyIfNotAvailable),
	)
	if err != nil {
		log.Fatal(err)
	}

	brokerOptions := []broker.Option{
		broker.WithIssuer(iss),
		broker.WithBaseURL(baseURL),
	}

	if policyPath := os.Getenv("CLIENTS_POLICY_PATH"); policyPath != "" {
		slog.Info("Loading clients policy", "path", policyPath)
		brokerOptions = append(brokerOptions, broker.WithPolicyFromFile(policyPath))
	}

	if webID := os.Getenv("DEMO_WEBID"); webID != "" {
		brokerOptions = append(brokerOptions, broker.WithDemoIdentity(issuer.Identity{
			UserID: util.GetEnv("DEMO_USER_ID", "demo-user"),
			WebID:  webID,
		}))
	}

	s, err := broker.NewServer(brokerOptions...)
	if err != nil {
		log.Fatal(err)
	}

	root := echo.New()
	root.Use(middleware.Recover())
	s.MountRoutes(root.Group(""))

	address := util.GetEnv("IDP_ADDRESS", ":8090")
	slog.Info("Starting identity broker", "address", address, "base_url", baseURL)
	log.Fatal(root.Start(address))
}
