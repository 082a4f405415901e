package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"tally/config"
	"tally/crypto"
	"tally/rpc"
)

// runToken prints a bearer token for the RPC server's mutating methods.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	subject := fs.String("subject", "", "Bech32 address the token authenticates as")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("token: -subject is required")
	}
	if *ttl <= 0 {
		return errors.New("token: -ttl must be positive")
	}
	addr, err := crypto.DecodeAddress(*subject)
	if err != nil {
		return fmt.Errorf("token: subject: %w", err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret := cfg.JWTSecret()
	if secret == "" {
		return errors.New("token: no JWT secret configured")
	}
	token, err := rpc.IssueToken([]byte(secret), cfg.RPC.JWTIssuer, cfg.RPC.JWTAudience, addr, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
