package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/auth"
	"activity/internal/config"
)

// admintoken prints an admin access token signed with the configured key.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a TOML config file")
	subject := flag.String("subject", "admin", "subject recorded as the token owner")
	ttl := flag.Duration("ttl", 0, "access token lifetime, defaults to ACCESS_TTL")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}

	if *ttl > 0 {
		cfg.AccessTTL = *ttl
	}
	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	pair, err := signer.Issue(*subject, auth.RoleAdmin)
	if err != nil {
		logger.Error.Fatalf("Failed to issue token: %v", err)
	}
	logger.Debug.Printf("token for %s expires at %s", *subject, pair.AccessExp)
	fmt.Println(pair.AccessToken)
}
