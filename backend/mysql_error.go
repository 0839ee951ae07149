package backend

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

func asMySQLError(err error) (*mysql.MySQLError, bool) {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		return merr, true
	}
	return nil, false
}
