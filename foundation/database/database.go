// Package database provides support for access the database.
package database

import (
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Config is the required properties to use the database.
// Driver selects the backend: "postgres" (the default) or "sqlite" for
// local development, in which case Path points at the database file and
// the remaining fields are ignored.
type Config struct {
	Driver     string
	User       string
	Password   string
	Host       string
	Name       string
	DisableTLS bool
	Path       string
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "", "postgres":
		return openPostgres(cfg)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openPostgres(cfg Config) (*sqlx.DB, error) {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return sqlx.Connect("pgx", u.String())
}

// OpenSQLite opens a sqlite database at path, ":memory:" included.
func OpenSQLite(path string) (*sqlx.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	return sqlx.Connect("sqlite", path)
}

// PrepareNamedQueryFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns rebound query string and arguments slice
func PrepareNamedQueryFromMap(
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (string, []interface{}, error) {

	query, args, err := sqlx.Named(statementString, sqlArgMap)
	if err != nil {
		return query, nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return query, nil, err
	}
	query = db.Rebind(query)
	return query, args, nil
}
