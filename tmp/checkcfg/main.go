package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gridpermit/internal/app"
	"gridpermit/internal/db"
	"gridpermit/internal/engine"
	"gridpermit/internal/migrate"
	"gridpermit/internal/server"
)

func main() {
	workspace := "/tmp/gridpermit-check1"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg, err := app.ResolveConfig(workspace, "check-utility")
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.CreateAccount(context.Background(), "ls-1", "Checker LS", "ls", "", "north"); err != nil {
		panic(err)
	}
	jwtSecret := "test-secret"
	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()
	token := signToken(jwtSecret, "ls-1", "ls")

	body := map[string]any{
		"title":        "Replace cross-arm on pole 41",
		"category":     "maintenance",
		"likelihood":   3,
		"severity":     4,
		"region":       "north",
		"crew_lead":    "Checker Lead",
		"window_start": time.Now().Format(time.RFC3339),
		"window_end":   time.Now().Add(4 * time.Hour).Format(time.RFC3339),
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/permits", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("status=%d resp=%v\n", res.StatusCode, resp)
}

func signToken(secret, accountID, role string) string {
	claims := jwt.MapClaims{
		"sub":  accountID,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}
