package storage

import (
	"context"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var keyPrefix = []byte("device-config/")

// BadgerStore persists configs in a badger database on disk, one JSON
// value per named config.
type BadgerStore struct {
	db  *badger.DB
	log *zap.Logger
}

func NewBadgerStore(dir string, log *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{db: db, log: log.Named("store")}, nil
}

func (b *BadgerStore) Load(ctx context.Context, name string) (*DeviceConfig, error) {
	var config *DeviceConfig

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(value []byte) error {
			config = &DeviceConfig{}
			return json.Unmarshal(value, config)
		})
	})
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (b *BadgerStore) Save(ctx context.Context, config *DeviceConfig) error {
	if config == nil || config.Name == "" {
		return errors.New("config must be named")
	}

	value, err := json.Marshal(config)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey(config.Name), value)
	})
}

func (b *BadgerStore) Delete(ctx context.Context, name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storageKey(name))
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func storageKey(name string) []byte {
	return append(append([]byte{}, keyPrefix...), name...)
}

var _ Store = (*BadgerStore)(nil)
