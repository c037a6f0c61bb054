// Package mysql provides the MySQL / MariaDB adapter, backed by
// go-sql-driver/mysql through database/sql.
package mysql

import (
	"context"
	"net/url"
	"strings"

	driver "github.com/go-sql-driver/mysql"

	"github.com/sqlbind/sqlbind/backend"
)

func init() {
	backend.Register("mysql", open)
	backend.Register("mariadb", open)
}

func open(_ context.Context, u *url.URL) (backend.Pool, error) {
	poolCfg, rest, err := backend.PoolConfigFromURL(u)
	if err != nil {
		return nil, err
	}

	cfg := driver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	for key := range rest {
		cfg.Params[key] = rest.Get(key)
	}

	return backend.OpenSQLPool("mysql", cfg.FormatDSN(), backend.NewMySQLDialect(), poolCfg)
}
