package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrRegistryClosed = errors.New("datasource: pool registry closed")
	ErrBadLink        = errors.New("datasource: linked name does not resolve to a connector")
	ErrPoolDiscarded  = errors.New("datasource: pool cleared while being created")
)

// PoolConfig is decoded from the addresses of a pooled reference.
// Durations are milliseconds; zero leaves the database/sql default.
type PoolConfig struct {
	MaxActive   int `mapstructure:"maxActive"`
	MaxIdle     int `mapstructure:"maxIdle"`
	MaxLifetime int `mapstructure:"maxLifetime"`
	MaxIdleTime int `mapstructure:"maxIdleTime"`
}

func DecodePoolConfig(ref *naming.Reference) (PoolConfig, error) {
	var cfg PoolConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(ref.Map()); err != nil {
		return cfg, fmt.Errorf("datasource: pool settings: %w", err)
	}
	return cfg, nil
}

func (c PoolConfig) apply(db *sql.DB) {
	if c.MaxActive > 0 {
		db.SetMaxOpenConns(c.MaxActive)
	}
	if c.MaxIdle > 0 {
		db.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Millisecond)
	}
	if c.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(time.Duration(c.MaxIdleTime) * time.Millisecond)
	}
}

// PoolRegistry builds a *sql.DB per datasource name on first lookup and keeps it
// until ClearPool or Close.
type PoolRegistry struct {
	pools  map[string]*sql.DB
	gens   map[string]uint64 // bumped by ClearPool
	mu     sync.Mutex
	sf     singleflight.Group
	closed bool
	logger *zap.Logger
}

func NewPoolRegistry(logger *zap.Logger) *PoolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolRegistry{
		pools:  make(map[string]*sql.DB),
		gens:   make(map[string]uint64),
		logger: logger,
	}
}

// GetOrCreatePool returns the pool for ref, creating it on first use.
// Concurrent first lookups of one name share a single construction.
func (p *PoolRegistry) GetOrCreatePool(ctx context.Context, name string, ref *naming.Reference, nctx naming.Context) (*sql.DB, error) {
	key := name
	if n, ok := ref.Get(AddrName); ok && n != "" {
		key = n
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if db, ok := p.pools[key]; ok {
		p.mu.Unlock()
		return db, nil
	}
	gen := p.gens[key]
	p.mu.Unlock()

	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		p.mu.Lock()
		if db, ok := p.pools[key]; ok {
			p.mu.Unlock()
			return db, nil
		}
		p.mu.Unlock()

		db, err := p.open(ctx, ref, nctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = db.Close()
			return nil, ErrRegistryClosed
		}
		if p.gens[key] != gen {
			_ = db.Close()
			p.logger.Info("pool :: discarded", zap.String("name", key))
			return nil, fmt.Errorf("%w: %s", ErrPoolDiscarded, key)
		}
		p.pools[key] = db
		p.logger.Info("pool :: created", zap.String("name", key), zap.String("class", ref.ClassName))
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (p *PoolRegistry) open(ctx context.Context, ref *naming.Reference, nctx naming.Context) (*sql.DB, error) {
	cfg, err := DecodePoolConfig(ref)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if link, ok := ref.Get(AddrLink); ok {
		obj, err := nctx.Lookup(ctx, link)
		if err != nil {
			return nil, err
		}
		connector, ok := obj.(driver.Connector)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", ErrBadLink, link, obj)
		}
		db = sql.OpenDB(connector)
	} else {
		url, _ := ref.Get(AddrURL)
		db, err = sql.Open(ref.ClassName, url)
		if err != nil {
			return nil, fmt.Errorf("datasource: open %s: %w", ref.ClassName, err)
		}
	}

	cfg.apply(db)
	return db, nil
}

// ClearPool closes and forgets the pool of name. A pool still being created
// for name is closed once built and never cached. Unknown names are ignored.
func (p *PoolRegistry) ClearPool(name string) error {
	p.mu.Lock()
	db, ok := p.pools[name]
	delete(p.pools, name)
	p.gens[name]++
	p.mu.Unlock()
	p.sf.Forget(name)

	if !ok {
		return nil
	}
	p.logger.Info("pool :: cleared", zap.String("name", name))
	return db.Close()
}

// Pools returns the names with a live pool, sorted.
func (p *PoolRegistry) Pools() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.pools))
	for n := range p.pools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every pool; the registry cannot be used afterwards.
func (p *PoolRegistry) Close() error {
	p.mu.Lock()
	pools := p.pools
	p.pools = make(map[string]*sql.DB)
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for name, db := range pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("datasource: close pool %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
