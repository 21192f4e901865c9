package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// DeviceAddress connects straight to a terminal, skipping cloud
	// resolution.
	DeviceAddress string `env:"PAYLINK_DEVICE_ADDRESS"`

	AccessToken  string `env:"PAYLINK_ACCESS_TOKEN"`
	Domain       string `env:"PAYLINK_DOMAIN"`
	MerchantID   string `env:"PAYLINK_MERCHANT_ID"`
	DeviceID     string `env:"PAYLINK_DEVICE_ID"`
	DeviceSerial string `env:"PAYLINK_DEVICE_SERIAL"`

	// FriendlyID identifies this caller to the terminal.
	FriendlyID string `env:"PAYLINK_FRIENDLY_ID,default=paylink-cli"`

	// DataDir holds the durable configuration store. Empty disables
	// persistence.
	DataDir string `env:"PAYLINK_DATA_DIR"`

	DebugHTTP bool `env:"PAYLINK_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
