package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/variables"
)

// placeholders maps each supported driver to its bind parameter style.
var placeholders = map[string]func(n int) string{
	"mysql":     func(int) string { return "?" },
	"sqlite":    func(int) string { return "?" },
	"postgres":  func(n int) string { return fmt.Sprintf("$%d", n) },
	"pgx":       func(n int) string { return fmt.Sprintf("$%d", n) },
	"sqlserver": func(n int) string { return fmt.Sprintf("@p%d", n) },
}

// connection holds the options shared by every database plugin.
type connection struct {
	driver string
	dsn    string
}

func parseConnection(opts config.Options, scope *variables.Scope) (connection, error) {
	c := connection{
		driver: strings.ToLower(opts.String("driver", "")),
		dsn:    scope.Expand(opts.String("dsn", "")),
	}
	if _, ok := placeholders[c.driver]; !ok {
		return c, fmt.Errorf("unsupported driver %q", c.driver)
	}
	if c.dsn == "" {
		return c, fmt.Errorf("option %q is required", "dsn")
	}
	return c, nil
}

func (c connection) placeholder(n int) string { return placeholders[c.driver](n) }

// open connects and pings the database.
func (c connection) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(c.driver, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", c.driver, err)
	}
	return db, nil
}

// quoteIdent quotes a possibly schema-qualified identifier for the driver.
func (c connection) quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		switch c.driver {
		case "mysql":
			parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
		case "sqlserver":
			parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
		default:
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}
