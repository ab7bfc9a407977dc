package data

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/gowvp/icapture/pkg/retry"
	"github.com/jackc/pgx/v5/pgconn"
)

// mysql 可重试错误码
var mysqlTransient = map[uint16]struct{}{
	1040: {}, // too many connections
	1205: {}, // lock wait timeout
	1213: {}, // deadlock
	2006: {}, // server has gone away
	2013: {}, // lost connection
}

// postgres 可重试状态码，08 类在 Classify 中按前缀判断
var pgTransient = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"53300": {}, // too_many_connections
	"57P01": {}, // admin_shutdown
	"57P03": {}, // cannot_connect_now
}

var transientMessages = []string{
	"bad connection",
	"broken pipe",
	"connection refused",
	"connection reset",
	"database is locked",
	"server closed the connection",
}

// Classify 区分连接类 (可重试) 与数据类 (不可重试) 错误
func Classify(err error) retry.Class {
	if err == nil {
		return retry.Permanent
	}
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return retry.Transient
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if _, ok := mysqlTransient[myErr.Number]; ok {
			return retry.Transient
		}
		return retry.Permanent
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") {
			return retry.Transient
		}
		if _, ok := pgTransient[pgErr.Code]; ok {
			return retry.Transient
		}
		return retry.Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return retry.Transient
		}
	}
	return retry.Permanent
}
