package pkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/datasource"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/notifier"
	"gopkg.in/yaml.v3"
)

var ErrUnknownFormat = errors.New("config: unknown file format")

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	Color bool   `yaml:"color" toml:"color"`
}

type NotifierConfig struct {
	StartAfter time.Duration `yaml:"start_after" toml:"start_after"`
	Interval   time.Duration `yaml:"interval" toml:"interval"`
}

type RegistryConfig struct {
	CredentialPolicy string `yaml:"credential_policy" toml:"credential_policy"`
	Prefix           string `yaml:"prefix" toml:"prefix"`
}

type Config struct {
	Log         LogConfig         `yaml:"log" toml:"log"`
	Notifier    NotifierConfig    `yaml:"notifier" toml:"notifier"`
	Registry    RegistryConfig    `yaml:"registry" toml:"registry"`
	Variables   map[string]string `yaml:"variables" toml:"variables"`
	Deployments []string          `yaml:"deployments" toml:"deployments"`
}

// DescriptorFile is the content of a deployment file.
type DescriptorFile struct {
	Datasources []datasource.Descriptor `yaml:"datasources" toml:"datasources"`
}

// ReadConfig
// reads a YAML (.yml, .yaml) or TOML (.toml) configuration file.
// Relative deployment paths are resolved against the directory of file.
func ReadConfig(file string) (*Config, error) {
	c := Config{}
	if err := decodeFile(file, &c); err != nil {
		return nil, err
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Notifier.StartAfter <= 0 {
		c.Notifier.StartAfter = notifier.DefaultStartAfter
	}
	if c.Notifier.Interval <= 0 {
		c.Notifier.Interval = notifier.DefaultInterval
	}
	if _, err := datasource.ParseCredentialPolicy(c.Registry.CredentialPolicy); err != nil {
		return nil, err
	}

	base := filepath.Dir(file)
	for i, d := range c.Deployments {
		if !filepath.IsAbs(d) {
			c.Deployments[i] = filepath.Join(base, d)
		}
	}

	return &c, nil
}

// ReadDescriptors reads the datasources of a deployment file.
// Each descriptor gets the element attributes (name, driverClassName,
// xaDataSource) added to its raw attributes.
func ReadDescriptors(file string) ([]datasource.Descriptor, error) {
	f := DescriptorFile{}
	if err := decodeFile(file, &f); err != nil {
		return nil, err
	}

	for i := range f.Datasources {
		d := &f.Datasources[i]
		attrs := make(map[string]string, len(d.Attributes)+3)
		for k, v := range d.Attributes {
			attrs[k] = v
		}
		attrs[datasource.AttrName] = d.Name
		if d.DriverName != "" {
			attrs[datasource.AttrDriverClassName] = d.DriverName
		}
		if d.XADataSource != "" {
			attrs[datasource.AttrXADataSource] = d.XADataSource
		}
		d.Attributes = attrs
		if d.Properties == nil {
			d.Properties = make(map[string]string)
		}
	}

	return f.Datasources, nil
}

func decodeFile(file string, v interface{}) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, v)
	case ".toml":
		err = toml.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, file)
	}
	if err != nil {
		return fmt.Errorf("config: decode %s: %w", file, err)
	}
	return nil
}
