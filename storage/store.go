package storage

import "context"

// DeviceConfig is a named, persistable terminal configuration.
//
// The websocket address itself is deliberately absent: the cloud mints
// a fresh one per connection, so persisting it would only ever replay a
// stale token.
type DeviceConfig struct {
	Name         string `json:"name"`
	AccessToken  string `json:"accessToken,omitempty"`
	Domain       string `json:"domain,omitempty"`
	MerchantID   string `json:"merchantId,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
	DeviceSerial string `json:"deviceSerial,omitempty"`
	FriendlyID   string `json:"friendlyId,omitempty"`
}

// Store persists DeviceConfigs by name.
type Store interface {
	// Load returns the named config, or (nil, nil) when absent.
	Load(ctx context.Context, name string) (*DeviceConfig, error)

	Save(ctx context.Context, config *DeviceConfig) error

	Delete(ctx context.Context, name string) error

	Close() error
}
