package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/config"
	"tally/core/events"
	"tally/core/state"
	"tally/integrations/eventstore"
	"tally/integrations/webhooks"
	"tally/native/bank"
	"tally/native/subscription"
	"tally/observability"
	"tally/services/keeper"
)

// node is the engine plus the sinks its events fan out to. The SQL archive is
// not one of them: it follows the log from its own goroutine.
type node struct {
	engine      *subscription.Engine
	log         *events.Log
	store       *eventstore.Store
	dispatcher  *webhooks.Dispatcher
	stopArchive context.CancelFunc
	archived    chan struct{}
}

func newNode(cfg *config.Config, mgr *state.Manager, logger *slog.Logger) (*node, error) {
	admin, err := cfg.AdminAddress()
	if err != nil {
		return nil, err
	}
	engine, err := subscription.NewEngine(bank.NewLedger())
	if err != nil {
		return nil, err
	}
	engine.SetState(mgr)
	engine.SetAdmin(admin)
	engine.SetDepositPerByte(cfg.Program.DepositPerByte)
	engine.SetLowAllowancePeriods(cfg.Program.LowAllowancePeriods)
	engine.SetLogger(logger)

	n := &node{engine: engine, log: events.NewLog(cfg.Program.EventRetention)}
	fanout := events.Multi{n.log, observability.Events()}

	if cfg.EventStore.DSN != "" {
		store, err := eventstore.Open(cfg.EventStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		store.SetLogger(logger)
		n.store = store
		ctx, cancel := context.WithCancel(context.Background())
		n.stopArchive, n.archived = cancel, make(chan struct{})
		go func() {
			defer close(n.archived)
			_ = store.Archive(ctx, n.log)
		}()
	}
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.WebhookSecret()),
			webhooks.WithTopics(cfg.Webhook.Topics...),
			webhooks.WithLogger(logger),
		)
		if err != nil {
			n.close()
			return nil, fmt.Errorf("init webhooks: %w", err)
		}
		n.dispatcher = dispatcher
		fanout = append(fanout, dispatcher)
	}
	engine.SetEmitter(fanout)
	return n, nil
}

func (n *node) close() {
	if n.dispatcher != nil {
		n.dispatcher.Close()
	}
	if n.stopArchive != nil {
		n.stopArchive()
		<-n.archived
	}
	if n.store != nil {
		_ = n.store.Close()
	}
}

func newKeeper(cfg *config.Config, engine *subscription.Engine, logger *slog.Logger) (*keeper.Keeper, error) {
	signer, account, err := cfg.KeeperAddresses()
	if err != nil {
		return nil, err
	}
	return keeper.New(engine, keeper.Config{
		Keeper:        signer,
		Account:       account,
		Interval:      time.Duration(cfg.Keeper.IntervalSecs) * time.Second,
		Concurrency:   cfg.Keeper.Concurrency,
		RatePerSecond: cfg.Keeper.RatePerSecond,
		MaxRetries:    cfg.Keeper.MaxRetries,
		BatchLimit:    cfg.Keeper.BatchLimit,
	}, keeper.WithLogger(logger), keeper.WithMetrics(observability.Keeper()))
}
