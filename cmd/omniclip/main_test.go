package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"omniclip/internal/auth"
	"omniclip/internal/config"
	"omniclip/internal/model"
	"omniclip/internal/server"
	"omniclip/internal/service"
)

func TestFlagEnv_OverridesEnvironment(t *testing.T) {
	t.Setenv("OMNICLIP_DEVICE_NAME", "from-env")
	env := flagEnv{"OMNICLIP_DEVICE_NAME": "from-flag", "OMNICLIP_LOG_LEVEL": ""}
	if got := env.Getenv("OMNICLIP_DEVICE_NAME"); got != "from-flag" {
		t.Fatalf("expected flag value, got %q", got)
	}
	t.Setenv("OMNICLIP_LOG_LEVEL", "debug")
	if got := env.Getenv("OMNICLIP_LOG_LEVEL"); got != "debug" {
		t.Fatalf("expected empty flag to fall through, got %q", got)
	}
}

func TestMintToken_RequiresConfiguredSecret(t *testing.T) {
	if _, err := mintToken(config.Config{ControlSecret: "x", GeneratedSecret: true, TokenExpiry: time.Hour}); err == nil {
		t.Fatalf("expected error for generated secret")
	}
	tok, err := mintToken(config.Config{ControlSecret: "x", TokenExpiry: time.Hour})
	if err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	if _, err := auth.VerifyToken(tok, auth.TokenConfig{Secret: "x", Issuer: "omniclip"}); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
}

func TestControlClient_StatusAndDevices(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identity, err := model.NewIdentity("desk")
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	svc, err := service.New(service.Options{Identity: identity, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	if _, err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg := auth.TokenConfig{Secret: "s", Expiry: time.Hour, Issuer: "omniclip"}
	srv := httptest.NewServer(server.NewRouter(server.Deps{Service: svc, TokenConfig: cfg}))
	defer srv.Close()
	tok, err := auth.CreateToken("cli", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	client := &controlClient{base: srv.URL, token: tok, http: srv.Client()}

	var version struct {
		DeviceName string `json:"device_name"`
	}
	if err := client.do(ctx, http.MethodGet, "/v1/version", nil, &version); err != nil {
		t.Fatalf("version: %v", err)
	}
	if version.DeviceName != "desk" {
		t.Fatalf("expected desk, got %q", version.DeviceName)
	}

	err = client.do(ctx, http.MethodDelete, "/v1/devices/"+identity.ID.String(), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "Device not found") {
		t.Fatalf("expected Device not found, got %v", err)
	}

	err = client.do(ctx, http.MethodPost, "/v1/pairing/join", map[string]string{"url": "https://example.com"}, nil)
	if err == nil {
		t.Fatalf("expected join error")
	}
}

func TestRootCommand_Help(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, sub := range []string{"run", "pair", "devices", "send", "status", "ips"} {
		if !strings.Contains(out.String(), sub) {
			t.Fatalf("expected help to mention %q", sub)
		}
	}
}
