package records

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Store is the durable record table. Implementations serialize Append so
// concurrent workers never interleave partial rows.
type Store interface {
	Append(ctx context.Context, recs ...VideoRecord) error
	ProcessedIDs(ctx context.Context) (map[string]struct{}, error)
	Load(ctx context.Context) ([]VideoRecord, error)
	Close() error
}

// Open picks a store from a locator: "csv" (or empty) uses csvPath, a
// "sqlite://" or "postgres://" DSN opens a SQL table.
func Open(logger zerolog.Logger, locator, csvPath string) (Store, error) {
	switch {
	case locator == "" || locator == "csv":
		return NewCSVStore(logger, csvPath)
	case strings.HasPrefix(locator, "sqlite://"),
		strings.HasPrefix(locator, "postgres://"),
		strings.HasPrefix(locator, "postgresql://"):
		return NewSQLStore(logger, locator)
	default:
		return nil, &UnknownStoreError{Locator: locator}
	}
}

// UnknownStoreError reports an unsupported store locator
type UnknownStoreError struct {
	Locator string
}

func (e *UnknownStoreError) Error() string {
	return "unsupported record store " + redact(e.Locator)
}

// redact hides credentials in a DSN before it reaches logs
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}
