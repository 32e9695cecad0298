package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/podlab/solid-oauth-lab/pkg/flow"
	"github.com/podlab/solid-oauth-lab/pkg/prettylog"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	brokerURL := util.GetEnv("IDP_BASE_URL", "http://localhost:8090")
	redirectURI := util.GetEnv("FLOW_REDIRECT_URI", "http://localhost:3355/callback")

	d := flow.NewDriver(brokerURL)
	st := flow.NewState(redirectURI)
	if os.Getenv("FLOW_PKCE_METHOD") == "S256" {
		st.UseS256()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("Running authorization flow", "broker_url", brokerURL, "redirect_uri", redirectURI,
		"code_challenge_method", st.CodeChallengeMethod)

	if err := d.Run(ctx, st); err != nil {
		log.Fatal(err)
	}

	slog.Info("Flow completed", "client_id", st.ClientID, "sub", st.Userinfo["sub"], "webid", st.Userinfo["webid"])

	fmt.Println("Access token:")
	fmt.Println(util.JWSToText(st.Tokens.AccessToken))
	fmt.Println("ID token:")
	fmt.Println(util.JWSToText(st.Tokens.IDToken))

	if result, err := d.ProbeWebID(ctx, st); err != nil {
		log.Fatal(err)
	} else if result != nil {
		slog.Info("WebID probe", "url", result.URL, "status", result.Status)
	}
}
