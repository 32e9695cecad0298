package nonce_test

import (
	"testing"
	"time"

	"github.com/podlab/solid-oauth-lab/pkg/nonce"
)

func TestRedeemIsSingleUse(t *testing.T) {
	svc, err := nonce.NewHashicorpNonceService()
	if err != nil {
		t.Fatal(err)
	}

	value, err := svc.Get()
	if err != nil {
		t.Fatal(err)
	}
	if value == "" {
		t.Fatal("expected a nonce value")
	}

	if err := svc.Redeem(value); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if err := svc.Redeem(value); err == nil {
		t.Fatal("second redeem must fail")
	}
}

func TestExpiredNonceRejected(t *testing.T) {
	svc, err := nonce.NewHashicorpNonceServiceWithValidity(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	value, err := svc.Get()
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(150 * time.Millisecond)

	if err := svc.Redeem(value); err == nil {
		t.Fatal("expired nonce must not redeem")
	}
}
