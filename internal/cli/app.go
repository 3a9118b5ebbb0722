package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/Pad-i/internal/chat"
	"github.com/RichardoC/Pad-i/internal/config"
	"github.com/RichardoC/Pad-i/internal/db"
	"github.com/RichardoC/Pad-i/internal/llm"
	"github.com/RichardoC/Pad-i/internal/metrics"
)

type recordStore interface {
	chat.Store
	Ping(ctx context.Context) error
	Close() error
}

// app is the wired service graph shared by the commands.
type app struct {
	store     recordStore
	responder *llm.Service
	stats     *metrics.Collector
	chat      *chat.Service
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	stats := metrics.NewCollector()
	responder, err := newResponder(cfg.LLM, logger, stats)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	svc, err := chat.NewService(store, responder, chat.Config{
		MaxContextMessages: cfg.Chat.MaxContextMessages,
		MaxMessageLength:   cfg.Chat.MaxMessageLength,
		DefaultTitle:       cfg.Chat.DefaultTitle,
	}, logger.Named("chat"))
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}

	return &app{store: store, responder: responder, stats: stats, chat: svc}, nil
}

// Close waits for turns already in flight to commit, then closes the store.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), turnBudget(a.responder.Backends()))
	defer cancel()
	err := a.chat.Drain(ctx)
	if err != nil {
		err = fmt.Errorf("drain turns: %w", err)
	}
	return multierr.Append(err, a.store.Close())
}

// turnBudget is the longest a turn can take when it walks the whole chain.
func turnBudget(backends []llm.BackendStatus) time.Duration {
	total := 30 * time.Second
	for _, b := range backends {
		if b.Available {
			total += b.Timeout
		}
	}
	return total
}

func newResponder(cfg config.LLM, logger *zap.Logger, stats *metrics.Collector) (*llm.Service, error) {
	chain, err := llm.NewChain(cfg)
	if err != nil {
		return nil, fmt.Errorf("build backend chain: %w", err)
	}
	for _, link := range chain {
		logger.Debug("backend configured",
			zap.String("backend", link.Backend.Name()),
			zap.Bool("available", link.Backend.Available()),
			zap.Duration("timeout", link.Timeout))
	}
	return llm.New(chain, llm.ParamsFrom(cfg.Generation),
		llm.WithLogger(logger.Named("llm")),
		llm.WithRecorder(stats),
	), nil
}

func openStore(ctx context.Context, cfg config.Store, logger *zap.Logger) (recordStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := db.OpenPostgres(ctx, cfg.PostgresDSN, logger.Named("db"))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		store, err := db.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.SQLitePath, err)
		}
		logger.Debug("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return store, nil
	}
}
