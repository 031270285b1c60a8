// Package catalog loads the static datasource catalog from a YAML file and
// opens governed connections against the configured engines.
package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"querygate/internal/domain"
)

// file is the on-disk shape of the catalog document.
type file struct {
	Datasources []datasourceYAML `yaml:"datasources"`
}

type datasourceYAML struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Engine   string        `yaml:"engine"`
	Profiles []profileYAML `yaml:"profiles"`
}

type profileYAML struct {
	Name string `yaml:"name"`
	DSN  string `yaml:"dsn"`
}

var supportedEngines = map[string]bool{
	domain.EngineDuckDB:   true,
	domain.EnginePostgres: true,
	domain.EngineMySQL:    true,
	domain.EngineSQLite:   true,
}

// Catalog is an immutable, in-memory view of the configured datasources.
type Catalog struct {
	byID    map[string]*domain.Datasource
	ordered []domain.Datasource
}

var _ domain.DatasourceCatalog = (*Catalog)(nil)

// Load reads and validates the catalog file at path. Environment variable
// references in DSNs (e.g. ${DWH_PASSWORD}) are expanded so secrets can stay
// out of the file itself.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading operator-specified config file
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var f file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Datasources) == 0 {
		return nil, fmt.Errorf("catalog defines no datasources")
	}

	c := &Catalog{byID: make(map[string]*domain.Datasource, len(f.Datasources))}
	for _, d := range f.Datasources {
		if d.ID == "" {
			return nil, fmt.Errorf("catalog: datasource with empty id")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate datasource id %q", d.ID)
		}
		if !supportedEngines[d.Engine] {
			return nil, fmt.Errorf("catalog: datasource %q has unsupported engine %q", d.ID, d.Engine)
		}
		if len(d.Profiles) == 0 {
			return nil, fmt.Errorf("catalog: datasource %q has no credential profiles", d.ID)
		}

		ds := domain.Datasource{
			ID:     d.ID,
			Name:   d.Name,
			Engine: d.Engine,
		}
		if ds.Name == "" {
			ds.Name = d.ID
		}
		seen := make(map[string]bool, len(d.Profiles))
		for _, p := range d.Profiles {
			if p.Name == "" {
				return nil, fmt.Errorf("catalog: datasource %q has a profile with empty name", d.ID)
			}
			if seen[p.Name] {
				return nil, fmt.Errorf("catalog: datasource %q has duplicate profile %q", d.ID, p.Name)
			}
			seen[p.Name] = true
			ds.Profiles = append(ds.Profiles, domain.CredentialProfile{
				Name: p.Name,
				DSN:  os.ExpandEnv(p.DSN),
			})
		}

		c.byID[ds.ID] = &ds
		c.ordered = append(c.ordered, ds)
	}
	return c, nil
}

// Get returns the datasource with the given id.
func (c *Catalog) Get(id string) (*domain.Datasource, error) {
	ds, ok := c.byID[id]
	if !ok {
		return nil, domain.ErrNotFound("datasource %q not found", id)
	}
	return ds, nil
}

// List returns all datasources in file order.
func (c *Catalog) List() []domain.Datasource {
	out := make([]domain.Datasource, len(c.ordered))
	copy(out, c.ordered)
	return out
}
