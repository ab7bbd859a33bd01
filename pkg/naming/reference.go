package naming

import (
	"context"
	"fmt"
	"strings"
)

// Kind tags a reference with the factory able to materialise it.
type Kind string

const (
	// KindPooled references resolve to a pooled *sql.DB.
	KindPooled Kind = "pooled-primary"
	// KindConnector references resolve to a raw, unpooled driver.Connector.
	KindConnector Kind = "pooled-secondary"
)

type RefAddr struct {
	Key   string
	Value string
}

// Reference
// an opaque, lazily resolved binding: a kind, a class name and addressed string properties.
type Reference struct {
	Kind      Kind
	ClassName string
	addrs     []RefAddr
}

func NewReference(kind Kind, className string) *Reference {
	return &Reference{
		Kind:      kind,
		ClassName: className,
		addrs:     make([]RefAddr, 0),
	}
}

// Add sets key to value; an existing key keeps its position and is overwritten.
func (r *Reference) Add(key, value string) {
	for i := range r.addrs {
		if r.addrs[i].Key == key {
			r.addrs[i].Value = value
			return
		}
	}
	r.addrs = append(r.addrs, RefAddr{Key: key, Value: value})
}

func (r *Reference) Get(key string) (string, bool) {
	for _, a := range r.addrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func (r *Reference) Addrs() []RefAddr {
	out := make([]RefAddr, len(r.addrs))
	copy(out, r.addrs)
	return out
}

// Map returns the addresses as a map, used to decode typed settings.
func (r *Reference) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.addrs))
	for _, a := range r.addrs {
		m[a.Key] = a.Value
	}
	return m
}

func (r *Reference) Len() int { return len(r.addrs) }

func (r *Reference) String() string {
	var b strings.Builder
	for _, a := range r.addrs {
		v := a.Value
		if strings.EqualFold(a.Key, "password") {
			v = "****"
		}
		fmt.Fprintf(&b, " %s=%s", a.Key, v)
	}
	return fmt.Sprintf("reference :: kind: %s, class: %s, addrs:%s", r.Kind, r.ClassName, b.String())
}

// ObjectFactory materialises the object behind a Reference at lookup time.
type ObjectFactory interface {
	GetObjectInstance(ctx context.Context, ref *Reference, name string, nctx Context) (interface{}, error)
}

type ObjectFactoryFunc func(ctx context.Context, ref *Reference, name string, nctx Context) (interface{}, error)

func (f ObjectFactoryFunc) GetObjectInstance(ctx context.Context, ref *Reference, name string, nctx Context) (interface{}, error) {
	return f(ctx, ref, name, nctx)
}
