// Package registry maps configuration keys to adapter constructors. The
// built-in set is returned by Default; embedders can register more kinds
// before building a runtime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/energywebfoundation/ew-link-bond/internal/adapters/ledger"
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/source"
	"github.com/energywebfoundation/ew-link-bond/internal/app/config"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

var (
	ErrUnknownKind = errors.New("registry: unknown kind")
	ErrDuplicate   = errors.New("registry: kind already registered")
)

// SourceFactory builds a source named name from its configuration block.
type SourceFactory func(name string, cfg config.SourceConfig) (ports.Source, error)

// LedgerFactory builds a ledger client. The returned close function releases
// its connections and may be nil.
type LedgerFactory func(cfg config.LedgerConfig) (ports.Ledger, func() error, error)

type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	ledgers map[string]LedgerFactory
}

func New() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		ledgers: make(map[string]LedgerFactory),
	}
}

// Default returns a registry holding every built-in source kind and ledger
// driver.
func Default() *Registry {
	r := New()
	_ = r.RegisterSource(config.SourceSimulator, func(name string, cfg config.SourceConfig) (ports.Source, error) {
		return source.NewSimulator(name, cfg.Seed), nil
	})
	_ = r.RegisterSource(config.SourceStatic, func(name string, cfg config.SourceConfig) (ports.Source, error) {
		return source.NewStatic(name, cfg.Value), nil
	})
	_ = r.RegisterSource(config.SourceHTTP, func(name string, cfg config.SourceConfig) (ports.Source, error) {
		return source.NewHTTPJSON(name, cfg.HTTP)
	})
	_ = r.RegisterSource(config.SourceOPCUA, func(name string, cfg config.SourceConfig) (ports.Source, error) {
		return source.NewOPCUA(name, cfg.OPCUA)
	})

	_ = r.RegisterLedger(config.LedgerMemory, func(config.LedgerConfig) (ports.Ledger, func() error, error) {
		return ledger.NewMemoryLedger(), nil, nil
	})
	_ = r.RegisterLedger(config.LedgerPostgres, func(cfg config.LedgerConfig) (ports.Ledger, func() error, error) {
		db, err := sqlx.Open("postgres", cfg.ConnString)
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewSQLLedger(db, cfg.Table), db.Close, nil
	})
	_ = r.RegisterLedger(config.LedgerRedis, func(cfg config.LedgerConfig) (ports.Ledger, func() error, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return ledger.NewRedisLedger(client, cfg.Redis.Prefix), client.Close, nil
	})
	return r
}

func (r *Registry) RegisterSource(kind string, f SourceFactory) error {
	if kind == "" || f == nil {
		return errors.New("registry: kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[kind]; ok {
		return fmt.Errorf("%w: source %q", ErrDuplicate, kind)
	}
	r.sources[kind] = f
	return nil
}

func (r *Registry) RegisterLedger(driver string, f LedgerFactory) error {
	if driver == "" || f == nil {
		return errors.New("registry: driver and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[driver]; ok {
		return fmt.Errorf("%w: ledger %q", ErrDuplicate, driver)
	}
	r.ledgers[driver] = f
	return nil
}

// Source builds the source for cfg.Kind and applies its rate limit.
func (r *Registry) Source(name string, cfg config.SourceConfig) (ports.Source, error) {
	r.mu.RLock()
	f, ok := r.sources[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source %q", ErrUnknownKind, cfg.Kind)
	}
	src, err := f(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("source %s (%s): %w", name, cfg.Kind, err)
	}
	return source.NewLimited(src, cfg.RateLimit), nil
}

// Ledger builds the ledger for cfg.Driver, behind a circuit breaker when
// one is configured.
func (r *Registry) Ledger(cfg config.LedgerConfig) (ports.Ledger, func() error, error) {
	r.mu.RLock()
	f, ok := r.ledgers[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: ledger %q", ErrUnknownKind, cfg.Driver)
	}
	l, closeFn, err := f(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger %s: %w", cfg.Driver, err)
	}
	if cfg.Breaker.Enabled {
		l = ledger.NewBreakerLedger(l, cfg.Breaker)
	}
	return l, closeFn, nil
}

// SourceKinds lists the registered source kinds in sorted order.
func (r *Registry) SourceKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SchemaPreparer is implemented by ledgers that can create their storage.
type SchemaPreparer interface {
	EnsureSchema(ctx context.Context) error
}

// PrepareLedger creates the ledger's storage when it supports it, looking
// through decorators. It reports whether anything was prepared.
func PrepareLedger(ctx context.Context, l ports.Ledger) (bool, error) {
	for l != nil {
		if p, ok := l.(SchemaPreparer); ok {
			return true, p.EnsureSchema(ctx)
		}
		u, ok := l.(interface{ Unwrap() ports.Ledger })
		if !ok {
			return false, nil
		}
		l = u.Unwrap()
	}
	return false, nil
}
