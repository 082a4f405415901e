package config

import (
	"fmt"
	"strings"

	"tally/crypto"
)

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "leveldb", "bolt":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage: path required for %s backend", c.Storage.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Program.Admin != "" {
		if _, err := crypto.DecodeAddress(c.Program.Admin); err != nil {
			return fmt.Errorf("program: admin: %w", err)
		}
	}
	if c.Program.EventRetention < 0 {
		return fmt.Errorf("program: event retention must not be negative")
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.Keeper.Enabled {
		if _, err := crypto.DecodeAddress(c.Keeper.Address); err != nil {
			return fmt.Errorf("keeper: address: %w", err)
		}
		if _, err := crypto.DecodeAddress(c.Keeper.Account); err != nil {
			return fmt.Errorf("keeper: account: %w", err)
		}
		if c.Keeper.IntervalSecs <= 0 {
			return fmt.Errorf("keeper: interval must be positive")
		}
		if c.Keeper.Concurrency <= 0 {
			return fmt.Errorf("keeper: concurrency must be positive")
		}
		if c.Keeper.MaxRetries < 0 {
			return fmt.Errorf("keeper: retries must not be negative")
		}
	}
	if strings.TrimSpace(c.Webhook.Endpoint) != "" && c.WebhookSecret() == "" {
		return fmt.Errorf("webhook: secret required when endpoint is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0, 1]")
	}
	return nil
}

// AdminAddress decodes Program.Admin. An empty value yields the zero
// address.
func (c *Config) AdminAddress() (crypto.Address, error) {
	if c.Program.Admin == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(c.Program.Admin)
}

// KeeperAddresses decodes the keeper signer and fee account.
func (c *Config) KeeperAddresses() (signer, account crypto.Address, err error) {
	if signer, err = crypto.DecodeAddress(c.Keeper.Address); err != nil {
		return signer, account, err
	}
	account, err = crypto.DecodeAddress(c.Keeper.Account)
	return signer, account, err
}
