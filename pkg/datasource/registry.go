package datasource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
	"go.uber.org/zap"
)

var (
	ErrInvalidDescriptor = errors.New("datasource: invalid descriptor")
	ErrAlreadyBound      = errors.New("datasource: already bound")
	ErrNotBound          = errors.New("datasource: not bound by this registry")
	ErrPoolRelease       = errors.New("datasource: cannot clear pooled datasource")
)

// CredentialPolicy decides whether credential properties of an XA descriptor are
// also copied onto the primary reference.
type CredentialPolicy int

const (
	CredentialsLinkOnly CredentialPolicy = iota
	CredentialsCopy
)

var credentialKeys = map[string]struct{}{
	"user":     {},
	"username": {},
	"password": {},
}

func ParseCredentialPolicy(s string) (CredentialPolicy, error) {
	switch strings.ToLower(s) {
	case "", "link", "link-only":
		return CredentialsLinkOnly, nil
	case "copy":
		return CredentialsCopy, nil
	}
	return CredentialsLinkOnly, fmt.Errorf("datasource: unknown credential policy %q", s)
}

// Expander expands configuration variables in property and attribute values.
type Expander interface {
	Expand(s string) string
}

type ExpanderFunc func(s string) string

func (f ExpanderFunc) Expand(s string) string { return f(s) }

// PoolReleaser discards the pool built for a datasource name.
type PoolReleaser interface {
	ClearPool(name string) error
}

type Option func(r *Registry)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithExpander(e Expander) Option {
	return func(r *Registry) {
		r.expander = e
	}
}

func WithCredentialPolicy(p CredentialPolicy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithNamer maps a datasource name to the name it is bound under.
func WithNamer(namer func(string) string) Option {
	return func(r *Registry) {
		r.namer = namer
	}
}

// WithPrefix binds every datasource under prefix+name.
func WithPrefix(prefix string) Option {
	return WithNamer(func(name string) string { return prefix + name })
}

// Registry binds descriptors into a naming context and owns the resulting handles.
type Registry struct {
	pools    PoolReleaser
	expander Expander
	policy   CredentialPolicy
	namer    func(string) string
	logger   *zap.Logger

	mu    sync.Mutex
	bound map[string]*BoundResource
}

func NewRegistry(pools PoolReleaser, options ...Option) *Registry {
	r := Registry{
		pools:    pools,
		expander: ExpanderFunc(func(s string) string { return s }),
		policy:   CredentialsLinkOnly,
		namer:    func(name string) string { return name },
		logger:   zap.NewNop(),
		bound:    make(map[string]*BoundResource),
	}

	for _, op := range options {
		op(&r)
	}

	return &r
}

// Bind publishes d into nctx.
// With an XA definition a secondary connector reference is bound first under
// name+"-xa" and the primary only links to it; the primary is published last.
func (r *Registry) Bind(nctx naming.Context, d Descriptor) (*BoundResource, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.bound[d.Name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyBound, d.Name)
	}
	// reserve the name while binding
	r.bound[d.Name] = nil
	r.mu.Unlock()

	b, err := r.bind(nctx, d)

	r.mu.Lock()
	if err != nil {
		delete(r.bound, d.Name)
	} else {
		r.bound[d.Name] = b
	}
	r.mu.Unlock()

	return b, err
}

func (r *Registry) bind(nctx naming.Context, d Descriptor) (*BoundResource, error) {
	b := BoundResource{
		Name:        d.Name,
		PrimaryName: r.namer(d.Name),
	}

	if d.XADataSource != "" {
		b.SecondaryName = r.namer(d.Name + SecondarySuffix)
		b.Secondary = naming.NewReference(naming.KindConnector, d.XADataSource)
		for _, k := range sortedKeys(d.Properties) {
			b.Secondary.Add(k, r.expander.Expand(d.Properties[k]))
		}

		b.Primary = naming.NewReference(naming.KindPooled, d.XADataSource)
		b.Primary.Add(AddrLink, b.SecondaryName)
		if r.policy == CredentialsCopy {
			for _, k := range sortedKeys(d.Properties) {
				if _, ok := credentialKeys[strings.ToLower(k)]; ok {
					b.Primary.Add(k, r.expander.Expand(d.Properties[k]))
				}
			}
		}
	} else {
		b.Primary = naming.NewReference(naming.KindPooled, d.DriverName)
		for _, k := range sortedKeys(d.Properties) {
			b.Primary.Add(k, r.expander.Expand(d.Properties[k]))
		}
	}

	for _, k := range sortedKeys(d.Attributes) {
		if k == AttrName || k == AttrXADataSource {
			continue
		}
		b.Primary.Add(k, r.expander.Expand(d.Attributes[k]))
	}
	b.Primary.Add(AddrName, d.Name)

	if b.Secondary != nil {
		if err := nctx.Bind(b.SecondaryName, b.Secondary); err != nil {
			return nil, fmt.Errorf("datasource: bind %s: %w", b.SecondaryName, err)
		}
		r.logger.Debug("registry :: bound secondary", zap.String("name", b.SecondaryName), zap.Stringer("reference", b.Secondary))
	}

	if err := nctx.Bind(b.PrimaryName, b.Primary); err != nil {
		err = fmt.Errorf("datasource: bind %s: %w", b.PrimaryName, err)
		if b.Secondary != nil {
			if uerr := nctx.Unbind(b.SecondaryName); uerr != nil {
				err = errors.Join(err, fmt.Errorf("datasource: rollback %s: %w", b.SecondaryName, uerr))
			}
		}
		return nil, err
	}

	r.logger.Info("registry :: bound datasource",
		zap.String("name", d.Name),
		zap.String("primary", b.PrimaryName),
		zap.String("secondary", b.SecondaryName))
	return &b, nil
}

// Unbind releases the pool of b, then unbinds the primary and the secondary name.
// Every step runs even if an earlier one failed; failures are joined.
func (r *Registry) Unbind(nctx naming.Context, b *BoundResource) error {
	if b == nil {
		return nil
	}

	r.mu.Lock()
	if owned, ok := r.bound[b.Name]; ok && owned == b {
		delete(r.bound, b.Name)
	}
	r.mu.Unlock()

	var poolErr, primaryErr, secondaryErr error
	if r.pools != nil {
		if err := r.pools.ClearPool(b.Name); err != nil {
			poolErr = fmt.Errorf("%w %s: %w", ErrPoolRelease, b.Name, err)
			r.logger.Error("registry :: pool release failed", zap.String("name", b.Name), zap.Error(err))
		}
	}

	if err := nctx.Unbind(b.PrimaryName); err != nil {
		primaryErr = fmt.Errorf("datasource: unbind %s: %w", b.PrimaryName, err)
	}
	if b.Secondary != nil {
		if err := nctx.Unbind(b.SecondaryName); err != nil {
			secondaryErr = fmt.Errorf("datasource: unbind %s: %w", b.SecondaryName, err)
		}
	}

	r.logger.Info("registry :: unbound datasource", zap.String("name", b.Name))
	return errors.Join(poolErr, primaryErr, secondaryErr)
}

// UnbindName unbinds the resource this registry bound under name.
func (r *Registry) UnbindName(nctx naming.Context, name string) error {
	b := r.Get(name)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrNotBound, name)
	}
	return r.Unbind(nctx, b)
}

// UnbindAll unbinds every owned resource, in reverse name order.
func (r *Registry) UnbindAll(nctx naming.Context) error {
	names := r.Bound()
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := r.UnbindName(nctx, names[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(name string) *BoundResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound[name]
}

// Bound returns the names of the resources currently bound, sorted.
func (r *Registry) Bound() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.bound))
	for n, b := range r.bound {
		if b != nil {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
