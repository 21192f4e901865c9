package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InmemoryStore keeps every config in one JSON document keyed by name.
// It is the store for tests and for callers who do not want anything
// on disk.
type InmemoryStore struct {
	mu     sync.Mutex
	values []byte

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte("{}"),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	if i.isRunning() {
		close(i.stop)
	}
	return nil
}

func (i *InmemoryStore) Load(ctx context.Context, name string) (*DeviceConfig, error) {
	if !i.isRunning() {
		return nil, errors.New("store is closed")
	}

	i.mu.Lock()
	result := gjson.GetBytes(i.values, escapeKey(name))
	raw := result.Raw
	i.mu.Unlock()

	if !result.Exists() {
		return nil, nil
	}

	config := &DeviceConfig{}
	if err := json.Unmarshal([]byte(raw), config); err != nil {
		return nil, err
	}

	return config, nil
}

func (i *InmemoryStore) Save(ctx context.Context, config *DeviceConfig) (err error) {
	if config == nil || config.Name == "" {
		return errors.New("config must be named")
	}
	if !i.isRunning() {
		return errors.New("store is closed")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.SetBytes(i.values, escapeKey(config.Name), config)
	return err
}

func (i *InmemoryStore) Delete(ctx context.Context, name string) (err error) {
	if !i.isRunning() {
		return errors.New("store is closed")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.DeleteBytes(i.values, escapeKey(name))
	return err
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// escapeKey keeps dots in config names from being read as json paths.
func escapeKey(name string) string {
	escaped := make([]byte, 0, len(name))
	for j := 0; j < len(name); j++ {
		if name[j] == '.' || name[j] == '*' || name[j] == '?' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, name[j])
	}
	return string(escaped)
}

var _ Store = (*InmemoryStore)(nil)
