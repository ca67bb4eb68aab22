// Package store persists scheduler state as small keyed records behind a
// driver switch. Keys are plain strings namespaced with '/'; values are
// opaque bytes (the callers store JSON).
package store

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"recurd/pkg/logx"
)

var (
	// ErrNotFound reports a key with no record.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable reports a transient backend failure worth retrying.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the minimal persistence API the scheduler needs.
type Store interface {
	Put(key string, val []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Close() error
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured store. The sqlite driver is the
// default; "memory" keeps everything in-process and is meant for tests
// and one-shot runs that never resume.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "badger":
		return openBadger(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unknown store driver %q", driver)
	}
}
