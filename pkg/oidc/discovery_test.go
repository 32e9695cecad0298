package oidc_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/podlab/solid-oauth-lab/pkg/oidc"
)

func TestFetchDiscoveryDocument(t *testing.T) {
	e := echo.New()
	e.GET("/.well-known/openid-configuration", func(c echo.Context) error {
		return c.JSON(http.StatusOK, &oidc.DiscoveryDocument{
			Issuer:                "http://op.example",
			AuthorizationEndpoint: "http://op.example/authorize",
			TokenEndpoint:         "http://op.example/oauth/token",
			JwksURI:               "http://op.example/jwks",
		})
	})
	ts := httptest.NewServer(e)
	defer ts.Close()

	doc, err := oidc.FetchDiscoveryDocument(ts.URL + "/.well-known/openid-configuration")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Issuer != "http://op.example" {
		t.Fatalf("issuer = %q", doc.Issuer)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JwksURI == "" {
		t.Fatalf("document incomplete: %+v", doc)
	}
}

func TestFetchDiscoveryDocumentRejectsNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := oidc.FetchDiscoveryDocument(ts.URL + "/.well-known/openid-configuration")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}
