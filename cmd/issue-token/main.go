// Command issue-token mints an access token for an agent or supervisor.
// It reads the same environment as the API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"claims-dialer/internal/auth"
	"claims-dialer/internal/config"
	"claims-dialer/internal/rbac"
)

func main() {
	userID := flag.String("user", "", "agent or supervisor id")
	role := flag.String("role", rbac.RoleAgent, "agent, supervisor or admin")
	ttl := flag.Duration("ttl", 0, "access token lifetime; 0 prints a configured access/refresh pair")
	flag.Parse()

	if *userID == "" || !rbac.IsKnown(*role) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	now := time.Now()
	if *ttl > 0 {
		tok, err := m.IssueAccess(now, *userID, *role, *ttl)
		if err != nil {
			slog.Error("token issuance failed", "err", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	pair, err := m.IssuePair(now, *userID, *role)
	if err != nil {
		slog.Error("token issuance failed", "err", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}
