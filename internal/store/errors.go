package store

import (
	"errors"
	"fmt"

	"github.com/ncruces/go-sqlite3"
)

// ErrStorageUnavailable reports that the underlying database could not be opened.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrWriteConflict reports a busy or locked database.
var ErrWriteConflict = errors.New("write conflict")

// ErrIO reports any other failed read or write.
var ErrIO = errors.New("storage i/o")

// ErrDuplicateID reports an insert whose key already exists.
var ErrDuplicateID = errors.New("duplicate id")

// classify maps a driver error onto the package sentinels, keeping the
// original error in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch {
		case serr.ExtendedCode() == sqlite3.CONSTRAINT_PRIMARYKEY,
			serr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE:
			return fmt.Errorf("%s: %w: %w", op, ErrDuplicateID, err)
		case serr.Code() == sqlite3.BUSY, serr.Code() == sqlite3.LOCKED:
			return fmt.Errorf("%s: %w: %w", op, ErrWriteConflict, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
