package datasource

import (
	"fmt"

	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
)

// Attribute names of a datasource configuration element.
const (
	AttrName            = "name"
	AttrDriverClassName = "driverClassName"
	AttrXADataSource    = "xaDataSource"
)

// Reference address keys understood by the pool and connector factories.
const (
	AddrName        = "name"
	AddrLink        = "dataSourceJNDI"
	AddrURL         = "url"
	SecondarySuffix = "-xa"
)

// Descriptor describes one datasource to register.
//
// Exactly one of XADataSource and DriverName must be set. Properties configure the
// connections; Attributes are the raw attributes of the configuration element and
// carry pool tuning (maxActive, maxIdle, ...) through to the pool factory.
type Descriptor struct {
	Name         string            `yaml:"name" toml:"name"`
	XADataSource string            `yaml:"xa_datasource" toml:"xa_datasource"`
	DriverName   string            `yaml:"driver" toml:"driver"`
	Properties   map[string]string `yaml:"properties" toml:"properties"`
	Attributes   map[string]string `yaml:"attributes" toml:"attributes"`
}

func (d Descriptor) String() string {
	return fmt.Sprintf("descriptor :: name: %s, driver: %s, xa: %s, properties: %d, attributes: %d",
		d.Name, d.DriverName, d.XADataSource, len(d.Properties), len(d.Attributes))
}

func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	}
	if (d.XADataSource == "") == (d.DriverName == "") {
		return fmt.Errorf("%w: datasource %s must specify exactly one of %s or %s",
			ErrInvalidDescriptor, d.Name, AttrXADataSource, AttrDriverClassName)
	}
	return nil
}

// BoundResource is the runtime handle of a bound Descriptor.
type BoundResource struct {
	Name          string
	PrimaryName   string
	Primary       *naming.Reference
	SecondaryName string
	Secondary     *naming.Reference
}

func (b *BoundResource) HasSecondary() bool { return b.Secondary != nil }

// Names lists the naming entries owned by b, primary first.
func (b *BoundResource) Names() []string {
	if b.HasSecondary() {
		return []string{b.PrimaryName, b.SecondaryName}
	}
	return []string{b.PrimaryName}
}
