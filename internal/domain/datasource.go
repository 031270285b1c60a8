package domain

// Supported datasource engine kinds. Each maps to a registered
// database/sql driver.
const (
	EngineDuckDB   = "duckdb"
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
	EngineSQLite   = "sqlite"
)

// CredentialProfile names one set of connection credentials configured on a
// datasource. The DSN is driver-specific and treated as a secret.
type CredentialProfile struct {
	Name string
	DSN  string
}

// Datasource describes one externally managed database engine the gateway
// can execute against.
type Datasource struct {
	ID       string
	Name     string
	Engine   string
	Profiles []CredentialProfile
}

// Profile returns the named credential profile, if configured.
func (d *Datasource) Profile(name string) (CredentialProfile, bool) {
	for _, p := range d.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return CredentialProfile{}, false
}

// HasProfile reports whether the named credential profile is configured.
func (d *Datasource) HasProfile(name string) bool {
	_, ok := d.Profile(name)
	return ok
}
