package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
)

// PoolFactory resolves naming.KindPooled references through a PoolRegistry.
type PoolFactory struct {
	Pools *PoolRegistry
}

func (f PoolFactory) GetObjectInstance(ctx context.Context, ref *naming.Reference, name string, nctx naming.Context) (interface{}, error) {
	return f.Pools.GetOrCreatePool(ctx, name, ref, nctx)
}

// ConnectorFactory resolves naming.KindConnector references to an unpooled
// driver.Connector for the driver named by the reference class.
type ConnectorFactory struct{}

func (ConnectorFactory) GetObjectInstance(_ context.Context, ref *naming.Reference, _ string, _ naming.Context) (interface{}, error) {
	url, _ := ref.Get(AddrURL)
	return OpenConnector(ref.ClassName, url)
}

// OpenConnector builds a connector for a registered database/sql driver.
func OpenConnector(driverName, dsn string) (driver.Connector, error) {
	// sql.Open does not connect, it only resolves the registered driver
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("datasource: driver %s: %w", driverName, err)
	}
	drv := db.Driver()
	_ = db.Close()

	if dc, ok := drv.(driver.DriverContext); ok {
		return dc.OpenConnector(dsn)
	}
	return dsnConnector{dsn: dsn, driver: drv}, nil
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver {
	return c.driver
}

// RegisterFactories installs the pool and connector factories on c.
func RegisterFactories(c *naming.MemoryContext, pools *PoolRegistry) {
	c.RegisterFactory(naming.KindPooled, PoolFactory{Pools: pools})
	c.RegisterFactory(naming.KindConnector, ConnectorFactory{})
}
