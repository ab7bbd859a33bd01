package deploy

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/dsbinder/pkg"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/datasource"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/model"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/notifier"
	"go.uber.org/zap"
)

// IDPrefix marks the notifier entries owned by a Deployer.
const IDPrefix = "deploy:"

var (
	ErrAlreadyDeployed = errors.New("deploy: file already deployed")
	ErrNotDeployed     = errors.New("deploy: file not deployed")
)

type Option func(d *Deployer)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// WithCallbackFunction registers a hook called for every deployment event.
func WithCallbackFunction(hook func(e model.Event, err error)) Option {
	return func(d *Deployer) {
		d.hooks = append(d.hooks, hook)
	}
}

// Deployer binds the datasources of descriptor files and rebinds them when a
// file changes on disk.
type Deployer struct {
	registry *datasource.Registry
	nctx     naming.Context
	notifier *notifier.Notifier
	hooks    []func(e model.Event, err error)
	logger   *zap.Logger

	mu          sync.Mutex
	deployments map[string][]string // file -> datasource names
}

func New(registry *datasource.Registry, nctx naming.Context, n *notifier.Notifier, options ...Option) *Deployer {
	d := Deployer{
		registry:    registry,
		nctx:        nctx,
		notifier:    n,
		hooks:       make([]func(e model.Event, err error), 0),
		logger:      zap.NewNop(),
		deployments: make(map[string][]string),
	}

	for _, op := range options {
		op(&d)
	}

	n.AddListener(&d)
	return &d
}

// Deploy binds every datasource of file and starts watching it.
// A descriptor that fails to bind does not stop its siblings; the file stays
// deployed so that fixing it on disk redeploys it.
func (d *Deployer) Deploy(file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.deployments[abs]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, abs)
	}

	if _, err := d.notifier.WatchID(IDPrefix+abs, abs); err != nil {
		return err
	}

	names, err := d.deploy(abs, 0)
	d.deployments[abs] = names
	return err
}

// Undeploy stops watching file and unbinds its datasources.
func (d *Deployer) Undeploy(file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	names, ok := d.deployments[abs]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDeployed, abs)
	}

	d.notifier.Unwatch(IDPrefix + abs)
	delete(d.deployments, abs)
	return d.undeploy(abs, names, 0)
}

// FileChanged redeploys a changed deployment file.
func (d *Deployer) FileChanged(entry notifier.Entry, observed time.Time) error {
	if !strings.HasPrefix(entry.ID, IDPrefix) {
		return nil
	}
	abs := strings.TrimPrefix(entry.ID, IDPrefix)

	d.mu.Lock()
	defer d.mu.Unlock()

	names, ok := d.deployments[abs]
	if !ok {
		return nil
	}

	d.logger.Info("deploy :: reloading", zap.String("file", abs), zap.Time("modified_at", observed))
	uerr := d.undeploy(abs, names, model.Reload)
	names, err := d.deploy(abs, model.Reload)
	d.deployments[abs] = names
	return errors.Join(uerr, err)
}

// Deployments returns the deployed files, sorted.
func (d *Deployer) Deployments() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	files := make([]string, 0, len(d.deployments))
	for f := range d.deployments {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Datasources returns the datasource names bound from file.
func (d *Deployer) Datasources(file string) []string {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.deployments[abs]))
	copy(out, d.deployments[abs])
	return out
}

// Close undeploys every file and detaches from the notifier.
func (d *Deployer) Close() error {
	d.notifier.RemoveListener(d)

	var errs []error
	for _, f := range d.Deployments() {
		if err := d.Undeploy(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Deployer) deploy(file string, op model.Op) ([]string, error) {
	descriptors, err := pkg.ReadDescriptors(file)
	if err != nil {
		d.logger.Error("deploy :: cannot read deployment", zap.String("file", file), zap.Error(err))
		d.emit(model.Event{Name: file, File: file, Op: op | model.Fail}, err)
		return nil, err
	}

	names := make([]string, 0, len(descriptors))
	var errs []error
	for _, desc := range descriptors {
		if _, err := d.registry.Bind(d.nctx, desc); err != nil {
			d.logger.Error("deploy :: bind failed", zap.String("file", file), zap.String("name", desc.Name), zap.Error(err))
			d.emit(model.Event{Name: desc.Name, File: file, Op: op | model.Bind | model.Fail}, err)
			errs = append(errs, err)
			continue
		}
		names = append(names, desc.Name)
		d.emit(model.Event{Name: desc.Name, File: file, Op: op | model.Bind}, nil)
	}

	d.logger.Info("deploy :: deployed", zap.String("file", file), zap.Strings("datasources", names))
	return names, errors.Join(errs...)
}

func (d *Deployer) undeploy(file string, names []string, op model.Op) error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		err := d.registry.UnbindName(d.nctx, names[i])
		if err != nil {
			d.logger.Error("deploy :: unbind failed", zap.String("file", file), zap.String("name", names[i]), zap.Error(err))
			errs = append(errs, err)
			d.emit(model.Event{Name: names[i], File: file, Op: op | model.Unbind | model.Fail}, err)
			continue
		}
		d.emit(model.Event{Name: names[i], File: file, Op: op | model.Unbind}, nil)
	}
	return errors.Join(errs...)
}

func (d *Deployer) emit(e model.Event, err error) {
	for _, hook := range d.hooks {
		hook(e, err)
	}
}
