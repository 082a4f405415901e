package subscription

import (
	"errors"
	"fmt"

	"tally/core/state"
	"tally/crypto"
)

func validateConfig(cfg *Config) error {
	if cfg.PlatformAuthority.IsZero() {
		return invalidParam("platform_authority", "required")
	}
	if cfg.PlatformDestination.IsZero() {
		return invalidParam("platform_destination", "required")
	}
	if cfg.MaxPlatformFeeBps > BasisPointsDenominator {
		return invalidParam("max_platform_fee_bps", fmt.Sprintf("must be at most %d", BasisPointsDenominator))
	}
	if cfg.MinPlatformFeeBps > cfg.MaxPlatformFeeBps {
		return invalidParam("min_platform_fee_bps", "must not exceed max_platform_fee_bps")
	}
	if cfg.KeeperFeeBps > BasisPointsDenominator {
		return invalidParam("keeper_fee_bps", fmt.Sprintf("must be at most %d", BasisPointsDenominator))
	}
	if uint64(cfg.KeeperFeeBps)+uint64(cfg.MaxPlatformFeeBps) > BasisPointsDenominator {
		return invalidParam("keeper_fee_bps", "keeper fee plus max platform fee exceeds 100%")
	}
	if cfg.MinPeriodSecs < MinPeriodFloor {
		return invalidParam("min_period_secs", fmt.Sprintf("must be at least %d", MinPeriodFloor))
	}
	if cfg.DefaultAllowancePeriods == 0 {
		return invalidParam("default_allowance_periods", "must be positive")
	}
	if cfg.MaxGraceSecs == 0 {
		return invalidParam("max_grace_secs", "must be positive")
	}
	return nil
}

// InitConfig creates the program configuration. Only the engine admin may
// call it, and only once.
func (e *Engine) InitConfig(caller crypto.Address, params ConfigParams) (*Config, error) {
	if e.admin.IsZero() || caller != e.admin {
		return nil, fmt.Errorf("%w: config must be initialised by the admin", ErrUnauthorized)
	}
	cfg := &Config{
		PlatformAuthority:       params.PlatformAuthority,
		PlatformDestination:     params.PlatformDestination,
		MinPlatformFeeBps:       params.MinPlatformFeeBps,
		MaxPlatformFeeBps:       params.MaxPlatformFeeBps,
		KeeperFeeBps:            params.KeeperFeeBps,
		MinPeriodSecs:           params.MinPeriodSecs,
		DefaultAllowancePeriods: params.DefaultAllowancePeriods,
		MaxGraceSecs:            params.MaxGraceSecs,
		CreatedAt:               e.now(),
	}
	if cfg.DefaultAllowancePeriods == 0 {
		cfg.DefaultAllowancePeriods = DefaultAllowancePeriods
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	at := ConfigAddress()
	err := e.atomic(lockKeys(at), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		if _, err := e.ownedAccount(tx, cfg.PlatformDestination, cfg.PlatformAuthority, at, "platform_destination", out); err != nil {
			return err
		}
		if _, err := state.Create(tx, at, cfg); err != nil {
			if errors.Is(err, state.ErrAlreadyExists) {
				return fmt.Errorf("%w: config", ErrAlreadyExists)
			}
			return err
		}
		out.emit(ConfigInitialized{Config: cfg.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateConfig applies the non-nil fields of update. Only the platform
// authority may call it.
func (e *Engine) UpdateConfig(caller crypto.Address, update ConfigUpdate) (*Config, error) {
	at := ConfigAddress()
	var updated *Config
	err := e.atomic(lockKeys(at), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		cfg, err := e.loadConfig(tx)
		if err != nil {
			return err
		}
		if caller != cfg.PlatformAuthority {
			return fmt.Errorf("%w: platform authority required", ErrUnauthorized)
		}
		if update.KeeperFeeBps != nil {
			cfg.KeeperFeeBps = *update.KeeperFeeBps
		}
		if update.MinPlatformFeeBps != nil {
			cfg.MinPlatformFeeBps = *update.MinPlatformFeeBps
		}
		if update.MaxPlatformFeeBps != nil {
			cfg.MaxPlatformFeeBps = *update.MaxPlatformFeeBps
		}
		if update.PlatformDestination != nil {
			if _, err := e.ownedAccount(tx, *update.PlatformDestination, cfg.PlatformAuthority, at, "platform_destination", out); err != nil {
				return err
			}
			cfg.PlatformDestination = *update.PlatformDestination
		}
		if update.Paused != nil {
			cfg.Paused = *update.Paused
		}
		if err := validateConfig(cfg); err != nil {
			return err
		}
		if err := e.store(tx, at, cfg); err != nil {
			return err
		}
		updated = cfg
		out.emit(ConfigUpdated{Config: cfg.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TransferPlatformAuthority hands the platform role and fee destination to
// a new authority. The destination must be owned by the new authority.
func (e *Engine) TransferPlatformAuthority(caller, authority, destination crypto.Address) (*Config, error) {
	if authority.IsZero() {
		return nil, invalidParam("platform_authority", "required")
	}
	at := ConfigAddress()
	var updated *Config
	err := e.atomic(lockKeys(at), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		cfg, err := e.loadConfig(tx)
		if err != nil {
			return err
		}
		if caller != cfg.PlatformAuthority {
			return fmt.Errorf("%w: platform authority required", ErrUnauthorized)
		}
		if _, err := e.ownedAccount(tx, destination, authority, at, "platform_destination", out); err != nil {
			return err
		}
		cfg.PlatformAuthority = authority
		cfg.PlatformDestination = destination
		if err := e.store(tx, at, cfg); err != nil {
			return err
		}
		updated = cfg
		out.emit(ConfigUpdated{Config: cfg.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetPaused toggles the global pause flag.
func (e *Engine) SetPaused(caller crypto.Address, paused bool) (*Config, error) {
	return e.UpdateConfig(caller, ConfigUpdate{Paused: &paused})
}
