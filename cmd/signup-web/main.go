package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/podlab/solid-oauth-lab/pkg/prettylog"
	"github.com/podlab/solid-oauth-lab/pkg/signup"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	var store signup.UserStore
	if path := os.Getenv("USERS_STORE_PATH"); path != "" {
		fileStore, err := signup.NewFileUserStore(path)
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("Persisting users", "path", path)
		store = fileStore
	} else {
		store = signup.NewMemoryUserStore()
	}

	provisioner := signup.NewProvisioner(
		os.Getenv("OAUTH_ACCOUNTS_URL"),
		os.Getenv("POD_PROVISION_URL"),
	)

	s, err := signup.NewServer(
		signup.WithStore(store),
		signup.WithProvisioner(provisioner),
	)
	if err != nil {
		log.Fatal(err)
	}

	root := echo.New()
	root.Use(middleware.Recover())
	s.MountRoutes(root.Group(""))

	address := util.GetEnv("SIGNUP_ADDRESS", ":8093")
	slog.Info("Starting signup app", "address", address)
	log.Fatal(root.Start(address))
}
