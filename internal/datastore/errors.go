package datastore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// transientPGClasses are SQLSTATE classes worth a reconnect and retry:
// connection exceptions and operator intervention (server restarts).
var transientPGClasses = map[string]bool{
	"08": true,
	"57": true,
}

// transientPGCodes are retryable SQLSTATEs outside those classes.
var transientPGCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
}

var transientMessages = []string{
	"connection reset",
	"broken pipe",
	"connection refused",
	"bad connection",
	"database is locked",
	"sqlite_busy",
	"server closed the connection",
}

// IsTransient reports whether err is a data store failure a reconnect can
// fix.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return transientPGCodes[code] || (len(code) >= 2 && transientPGClasses[code[:2]])
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify wraps a driver error into the error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *ferrors.FerretError
	if errors.As(err, &fe) {
		return err
	}
	if IsTransient(err) {
		return ferrors.TransientDBError(op+" failed", err)
	}
	return ferrors.New(ferrors.ErrCodeDatabase, op+" failed", err)
}
