package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/and161185/gearguard/internal/errs"
)

// connPatterns are matched case-insensitively against error text.
var connPatterns = []string{
	"timeout",
	"reset",
	"broken pipe",
	"refused",
	"closed",
	"connection",
	"network",
	"eof",
}

// IsConnectionError reports whether err is a transient transport fault worth a
// reconnect and retry. Server-reported SQL errors are never connection-class
// unless their SQLSTATE says so.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrNoRows) || errors.Is(err, context.Canceled) {
		return false
	}
	// a finished transaction says nothing about the link under it
	if errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, sql.ErrTxDone) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx connection exception, 57P01..57P03 shutdown/cannot connect now
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrIoErr || liteErr.Code == sqlite3.ErrCantOpen
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(rootText(err))
	for _, p := range connPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique or primary key violation on either dialect.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(strings.ToLower(errText(err)), "unique constraint")
}

// Classify maps err to a DB error kind.
func Classify(err error) errs.DBKind {
	if err == nil {
		return errs.Unknown
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return errs.ConstraintViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		return errs.ConstraintViolation
	}
	if IsUniqueViolation(err) {
		return errs.ConstraintViolation
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return errs.Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Timeout
	}
	if IsConnectionError(err) {
		if strings.Contains(strings.ToLower(rootText(err)), "timeout") {
			return errs.Timeout
		}
		return errs.ConnectionLost
	}
	return errs.Unknown
}

// wrap classifies err into *errs.DBError. Errors that already carry a domain
// meaning pass through untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *errs.DBError
	var authErr *errs.AuthError
	switch {
	case errors.As(err, &dbErr), errors.As(err, &authErr),
		errors.Is(err, ErrNoRows), errors.Is(err, ErrClosed),
		errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrAlreadyExists):
		return err
	}
	return &errs.DBError{Kind: Classify(err), Op: op, Err: err}
}

// rootText is the message of the innermost error in a single-wrap chain.
func rootText(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
