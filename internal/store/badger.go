package store

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"

	"recurd/pkg/logx"
)

type badgerStore struct {
	db  *badger.DB
	log logx.Logger
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger db")
	}
	log.Debug("badger store opened", logx.String("path", path))
	return &badgerStore{db: db, log: log}, nil
}

func (s *badgerStore) Put(key string, val []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return errors.Mark(err, ErrUnavailable)
	}
	return nil
}

func (s *badgerStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Mark(errors.Newf("key %q", key), ErrNotFound)
	}
	if err != nil {
		return nil, errors.Mark(err, ErrUnavailable)
	}
	return out, nil
}

func (s *badgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return errors.Mark(err, ErrUnavailable)
	}
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
