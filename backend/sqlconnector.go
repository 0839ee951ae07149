package backend

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

// SQLConnector opens connections against the restricted-dialect
// backend via database/sql, using a single *sql.DB per connection (one
// underlying TCP connection per Slot, so the pool's own accounting is
// the only concurrency control).
type SQLConnector struct {
	DSN string
}

func (c *SQLConnector) Open(ctx context.Context) (Conn, error) {
	db, err := sql.Open("mysql", c.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqlConn{db: db}, nil
}

type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Ping(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "SHOW STATUS LIKE 'Threads_connected'")
	return err
}

func (c *sqlConn) Query(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var result [][]any
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		result = append(result, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, result, nil
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}
