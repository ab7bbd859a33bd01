package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newBoundContext(t *testing.T, pools *PoolRegistry) (*naming.MemoryContext, *Registry) {
	t.Helper()
	nctx := naming.NewMemoryContext(naming.WithLogger(lg))
	RegisterFactories(nctx, pools)
	return nctx, NewRegistry(pools, WithLogger(lg))
}

func TestPoolRegistry_DriverDatasource(t *testing.T) {
	pools := NewPoolRegistry(lg)
	defer pools.Close()
	nctx, r := newBoundContext(t, pools)

	dbFile := filepath.Join(t.TempDir(), "app.db")
	b, err := r.Bind(nctx, Descriptor{
		Name:       "jdbc/app",
		DriverName: "sqlite",
		Properties: map[string]string{"url": "file:" + dbFile},
		Attributes: map[string]string{"maxActive": "3", "maxIdle": "2"},
	})
	require.NoError(t, err, "bind datasource.")
	require.Empty(t, pools.Pools(), "pool is created lazily.")

	obj, err := nctx.Lookup(context.Background(), "jdbc/app")
	require.NoError(t, err, "lookup datasource.")
	db, ok := obj.(*sql.DB)
	require.True(t, ok, "lookup returns a pool, got %T", obj)
	require.NoError(t, db.Ping())
	require.Equal(t, 3, db.Stats().MaxOpenConnections)

	_, err = db.Exec("CREATE TABLE docs (id INTEGER PRIMARY KEY, title TEXT)")
	require.NoError(t, err)

	again, err := nctx.Lookup(context.Background(), "jdbc/app")
	require.NoError(t, err)
	require.Same(t, db, again, "pool is cached after first lookup.")
	require.Equal(t, []string{"jdbc/app"}, pools.Pools())

	require.NoError(t, r.Unbind(nctx, b))
	require.Empty(t, pools.Pools())
	require.Error(t, db.Ping(), "released pool is closed.")
	_, err = nctx.Lookup(context.Background(), "jdbc/app")
	require.ErrorIs(t, err, naming.ErrNotFound)
}

func TestPoolRegistry_XADatasource(t *testing.T) {
	pools := NewPoolRegistry(lg)
	defer pools.Close()
	nctx, r := newBoundContext(t, pools)

	_, err := r.Bind(nctx, Descriptor{
		Name:         "jdbc/xa",
		XADataSource: "sqlite",
		Properties:   map[string]string{"url": "file:" + filepath.Join(t.TempDir(), "xa.db")},
	})
	require.NoError(t, err)

	secondary, err := nctx.Lookup(context.Background(), "jdbc/xa-xa")
	require.NoError(t, err)
	_, ok := secondary.(driver.Connector)
	require.True(t, ok, "secondary resolves to an unpooled connector, got %T", secondary)

	obj, err := nctx.Lookup(context.Background(), "jdbc/xa")
	require.NoError(t, err)
	db := obj.(*sql.DB)
	require.NoError(t, db.Ping())

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	require.Equal(t, 1, one)
}

func TestPoolRegistry_ConcurrentFirstLookup(t *testing.T) {
	pools := NewPoolRegistry(lg)
	defer pools.Close()
	nctx, r := newBoundContext(t, pools)

	_, err := r.Bind(nctx, Descriptor{Name: "jdbc/app", DriverName: "sqlite", Properties: map[string]string{"url": ":memory:"}})
	require.NoError(t, err)

	const n = 16
	results := make([]*sql.DB, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := nctx.Lookup(context.Background(), "jdbc/app")
			if err == nil {
				results[i] = obj.(*sql.DB)
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, results[i])
		require.Same(t, results[0], results[i])
	}
	require.Len(t, pools.Pools(), 1)
}

func TestPoolRegistry_Errors(t *testing.T) {
	pools := NewPoolRegistry(nil)
	nctx, r := newBoundContext(t, pools)

	_, err := r.Bind(nctx, Descriptor{Name: "jdbc/bad", DriverName: "no-such-driver"})
	require.NoError(t, err, "binding does not resolve the driver.")
	_, err = nctx.Lookup(context.Background(), "jdbc/bad")
	require.Error(t, err, "unknown driver fails at lookup.")

	_, err = r.Bind(nctx, Descriptor{
		Name:       "jdbc/tuning",
		DriverName: "sqlite",
		Attributes: map[string]string{"maxActive": "lots"},
	})
	require.NoError(t, err)
	_, err = nctx.Lookup(context.Background(), "jdbc/tuning")
	require.Error(t, err, "non numeric pool setting.")

	link := naming.NewReference(naming.KindPooled, "sqlite")
	link.Add(AddrLink, "plain")
	require.NoError(t, nctx.Bind("plain", "not a connector"))
	require.NoError(t, nctx.Bind("jdbc/link", link))
	_, err = nctx.Lookup(context.Background(), "jdbc/link")
	require.ErrorIs(t, err, ErrBadLink)

	require.NoError(t, pools.ClearPool("never-created"))

	require.NoError(t, pools.Close())
	_, err = r.Bind(nctx, Descriptor{Name: "jdbc/late", DriverName: "sqlite"})
	require.NoError(t, err)
	_, err = nctx.Lookup(context.Background(), "jdbc/late")
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestDecodePoolConfig(t *testing.T) {
	ref := naming.NewReference(naming.KindPooled, "sqlite")
	ref.Add("url", ":memory:")
	ref.Add("maxActive", "20")
	ref.Add("maxIdle", "5")
	ref.Add("maxLifetime", "60000")
	ref.Add("minIdle", "1")

	cfg, err := DecodePoolConfig(ref)
	require.NoError(t, err)
	require.Equal(t, PoolConfig{MaxActive: 20, MaxIdle: 5, MaxLifetime: 60000}, cfg)
}

func TestOpenConnector_UnknownDriver(t *testing.T) {
	_, err := OpenConnector("no-such-driver", "")
	require.Error(t, err)
}

// slowContext resolves every name to connector once release is closed.
type slowContext struct {
	naming.Context
	connector driver.Connector
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func (c *slowContext) Lookup(_ context.Context, _ string) (interface{}, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return c.connector, nil
}

func TestPoolRegistry_ClearPoolDuringCreation(t *testing.T) {
	pools := NewPoolRegistry(lg)
	defer pools.Close()

	connector, err := OpenConnector("sqlite", ":memory:")
	require.NoError(t, err)
	nctx := &slowContext{
		connector: connector,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}

	ref := naming.NewReference(naming.KindPooled, "sqlite")
	ref.Add(AddrLink, "jdbc/a-xa")
	ref.Add(AddrName, "jdbc/a")

	type result struct {
		db  *sql.DB
		err error
	}
	first := make(chan result, 1)
	go func() {
		db, err := pools.GetOrCreatePool(context.Background(), "jdbc/a", ref, nctx)
		first <- result{db, err}
	}()

	<-nctx.entered
	require.NoError(t, pools.ClearPool("jdbc/a"))
	close(nctx.release)

	res := <-first
	require.ErrorIs(t, res.err, ErrPoolDiscarded)
	require.Nil(t, res.db)
	require.Empty(t, pools.Pools(), "pool built across a clear is not cached.")

	nctx.connector, err = OpenConnector("sqlite", ":memory:")
	require.NoError(t, err)
	db, err := pools.GetOrCreatePool(context.Background(), "jdbc/a", ref, nctx)
	require.NoError(t, err, "next lookup builds a fresh pool.")
	require.NoError(t, db.Ping())
	require.Equal(t, []string{"jdbc/a"}, pools.Pools())
}
