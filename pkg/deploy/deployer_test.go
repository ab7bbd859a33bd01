package deploy

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManouchehrRasoulli/dsbinder/internal/vars"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/datasource"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/model"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/notifier"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"
)

const twoDatasources = `
datasources:
  - name: jdbc/app
    driver: sqlite
    properties:
      url: file:${dir}/app.db
    attributes:
      maxActive: "4"
  - name: jdbc/audit
    xa_datasource: sqlite
    properties:
      url: file:${dir}/audit.db
`

const oneDatasource = `
datasources:
  - name: jdbc/app
    driver: sqlite
    properties:
      url: file:${dir}/app2.db
`

const brokenDatasource = `
datasources:
  - name: jdbc/app
    driver: sqlite
  - name: jdbc/both
    driver: sqlite
    xa_datasource: sqlite
`

type events struct {
	mu  sync.Mutex
	all []model.Event
}

func (e *events) hook(ev model.Event, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) with(op model.Op) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, ev := range e.all {
		if ev.Op == op {
			names = append(names, ev.Name)
		}
	}
	return names
}

type fixture struct {
	dir      string
	pools    *datasource.PoolRegistry
	nctx     *naming.MemoryContext
	registry *datasource.Registry
	notifier *notifier.Notifier
	deployer *Deployer
	events   *events
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lg := zaptest.NewLogger(t)
	dir := t.TempDir()

	f := fixture{dir: dir, events: &events{}}
	f.pools = datasource.NewPoolRegistry(lg)
	f.nctx = naming.NewMemoryContext(naming.WithLogger(lg))
	datasource.RegisterFactories(f.nctx, f.pools)
	f.registry = datasource.NewRegistry(f.pools,
		datasource.WithLogger(lg),
		datasource.WithExpander(vars.NewExpander(map[string]string{"dir": dir}, false)))
	f.notifier = notifier.New(notifier.WithLogger(lg))
	f.deployer = New(f.registry, f.nctx, f.notifier,
		WithLogger(lg),
		WithCallbackFunction(f.events.hook))

	t.Cleanup(func() {
		_ = f.deployer.Close()
		_ = f.pools.Close()
	})
	return &f
}

func (f *fixture) write(t *testing.T, name, content string, mtime time.Time) string {
	t.Helper()
	file := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644), "write deployment file.")
	require.NoError(t, os.Chtimes(file, mtime, mtime), "set deployment file time.")
	return file
}

func TestDeployer_DeployAndUndeploy(t *testing.T) {
	f := newFixture(t)
	file := f.write(t, "ds.yml", twoDatasources, time.Unix(1000, 0))

	require.NoError(t, f.deployer.Deploy(file), "deploy file.")
	require.Equal(t, []string{"jdbc/app", "jdbc/audit"}, f.registry.Bound())
	require.Equal(t, []string{"jdbc/app", "jdbc/audit", "jdbc/audit-xa"}, f.nctx.Names())
	require.Equal(t, []string{"jdbc/app", "jdbc/audit"}, f.events.with(model.Bind))
	require.Len(t, f.notifier.Entries(), 1)

	require.ErrorIs(t, f.deployer.Deploy(file), ErrAlreadyDeployed)

	obj, err := f.nctx.Lookup(context.Background(), "jdbc/audit")
	require.NoError(t, err)
	require.NoError(t, obj.(*sql.DB).Ping())

	require.NoError(t, f.deployer.Undeploy(file))
	require.Empty(t, f.registry.Bound())
	require.Empty(t, f.nctx.Names())
	require.Empty(t, f.pools.Pools())
	require.Empty(t, f.notifier.Entries())
	require.Equal(t, []string{"jdbc/audit", "jdbc/app"}, f.events.with(model.Unbind))

	require.ErrorIs(t, f.deployer.Undeploy(file), ErrNotDeployed)
}

func TestDeployer_RedeployOnChange(t *testing.T) {
	f := newFixture(t)
	file := f.write(t, "ds.yml", twoDatasources, time.Unix(1000, 0))
	require.NoError(t, f.deployer.Deploy(file))

	obj, err := f.nctx.Lookup(context.Background(), "jdbc/app")
	require.NoError(t, err)
	before := obj.(*sql.DB)
	require.NoError(t, before.Ping())

	f.notifier.Poll()
	require.Empty(t, f.events.with(model.Reload|model.Bind), "unchanged file is not redeployed.")

	f.write(t, "ds.yml", oneDatasource, time.Unix(2000, 0))
	f.notifier.Poll()

	require.Equal(t, []string{"jdbc/app"}, f.registry.Bound())
	require.Equal(t, []string{"jdbc/app"}, f.nctx.Names())
	require.Equal(t, []string{"jdbc/audit", "jdbc/app"}, f.events.with(model.Reload|model.Unbind))
	require.Equal(t, []string{"jdbc/app"}, f.events.with(model.Reload|model.Bind))
	require.Equal(t, []string{"jdbc/app"}, f.deployer.Datasources(file))

	require.Error(t, before.Ping(), "old pool was released on reload.")
	obj, err = f.nctx.Lookup(context.Background(), "jdbc/app")
	require.NoError(t, err)
	after := obj.(*sql.DB)
	require.NotSame(t, before, after)
	require.NoError(t, after.Ping())
	ref := f.registry.Get("jdbc/app").Primary
	url, _ := ref.Get("url")
	require.Equal(t, "file:"+f.dir+"/app2.db", url)
}

func TestDeployer_BrokenDescriptorDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t)
	file := f.write(t, "ds.yml", brokenDatasource, time.Unix(1000, 0))

	err := f.deployer.Deploy(file)
	require.ErrorIs(t, err, datasource.ErrInvalidDescriptor)
	require.Equal(t, []string{"jdbc/app"}, f.registry.Bound())
	require.Equal(t, []string{"jdbc/both"}, f.events.with(model.Bind|model.Fail))

	// fixing the file on disk redeploys it
	f.write(t, "ds.yml", twoDatasources, time.Unix(2000, 0))
	f.notifier.Poll()
	require.Equal(t, []string{"jdbc/app", "jdbc/audit"}, f.registry.Bound())
}

func TestDeployer_UnreadableDeployment(t *testing.T) {
	f := newFixture(t)
	file := f.write(t, "ds.yml", "datasources: [", time.Unix(1000, 0))

	require.Error(t, f.deployer.Deploy(file))
	require.Equal(t, []string{file}, f.deployer.Deployments(), "broken file stays deployed.")
	require.Len(t, f.events.with(model.Fail), 1)

	f.write(t, "ds.yml", oneDatasource, time.Unix(2000, 0))
	f.notifier.Poll()
	require.Equal(t, []string{"jdbc/app"}, f.registry.Bound())
}

func TestDeployer_IgnoresForeignEntries(t *testing.T) {
	f := newFixture(t)
	other := f.write(t, "notes.txt", "x", time.Unix(1000, 0))
	_, err := f.notifier.Watch(other)
	require.NoError(t, err)

	f.write(t, "notes.txt", "y", time.Unix(2000, 0))
	f.notifier.Poll()
	require.Empty(t, f.events.with(model.Reload|model.Bind))
}

func TestDeployer_Close(t *testing.T) {
	f := newFixture(t)
	a := f.write(t, "a.yml", oneDatasource, time.Unix(1000, 0))
	b := f.write(t, "b.toml", `
[[datasources]]
name = "jdbc/b"
driver = "sqlite"
`, time.Unix(1000, 0))

	require.NoError(t, f.deployer.Deploy(a))
	require.NoError(t, f.deployer.Deploy(b))
	require.Len(t, f.deployer.Deployments(), 2)

	require.NoError(t, f.deployer.Close())
	require.Empty(t, f.deployer.Deployments())
	require.Empty(t, f.registry.Bound())
	require.Empty(t, f.notifier.Listeners())
}
