package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Configuration is everything needed to locate a terminal. Either a
// direct websocket address, or enough cloud credentials to resolve one.
type Configuration struct {
	// Name keys this configuration in the persistence store.
	Name string

	// DeviceAddress short-circuits resolution when set. It is volatile,
	// the cloud mints a fresh one per connection, so it is never
	// persisted.
	DeviceAddress string

	AccessToken  string
	Domain       string
	MerchantID   string
	DeviceID     string
	DeviceSerial string

	// FriendlyID identifies this caller to the terminal and in the
	// merchant dashboard.
	FriendlyID string
}

// Endpoints resolves a terminal websocket address through the cloud
// REST surface: a device-list lookup to turn a serial into a device id,
// then an alert call that pushes our connection details to the terminal
// and returns the address to dial.
type Endpoints struct {
	httpClient *http.Client
	log        *zap.Logger
}

func NewEndpoints(log *zap.Logger) *Endpoints {
	return &Endpoints{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.Named("endpoints"),
	}
}

// ResolveAddress yields the websocket address for cfg. Returns
// IncompleteConfiguration when neither the direct nor the cloud path
// has enough data to proceed.
func (e *Endpoints) ResolveAddress(ctx context.Context, cfg *Configuration) (string, error) {
	if cfg == nil {
		return "", newError(IncompleteConfiguration, "a configuration is required")
	}
	if cfg.DeviceAddress != "" {
		return cfg.DeviceAddress, nil
	}

	if cfg.AccessToken == "" || cfg.Domain == "" || cfg.MerchantID == "" {
		return "", newError(IncompleteConfiguration,
			"resolution needs an access token, a domain and a merchant id when no device address is given")
	}
	if cfg.DeviceID == "" && cfg.DeviceSerial == "" {
		return "", newError(IncompleteConfiguration, "resolution needs a device id or a device serial")
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		id, err := e.lookupDeviceID(ctx, cfg)
		if err != nil {
			return "", err
		}
		deviceID = id
		cfg.DeviceID = id
	}

	return e.alertDevice(ctx, cfg, deviceID)
}

// lookupDeviceID finds the device id for cfg.DeviceSerial in the
// merchant's device list.
func (e *Endpoints) lookupDeviceID(ctx context.Context, cfg *Configuration) (string, error) {
	endpoint := fmt.Sprintf("%s/v3/merchants/%s/devices?access_token=%s",
		cfg.Domain, cfg.MerchantID, url.QueryEscape(cfg.AccessToken))

	body, err := e.get(ctx, endpoint)
	if err != nil {
		return "", wrapError(CommunicationError, err, "device list lookup failed")
	}

	var deviceID string
	gjson.GetBytes(body, "elements").ForEach(func(_, device gjson.Result) bool {
		if device.Get("serial").String() == cfg.DeviceSerial {
			deviceID = device.Get("id").String()
			return false
		}
		return true
	})

	if deviceID == "" {
		return "", newError(DeviceNotFound, "no device with serial %s registered to merchant %s",
			cfg.DeviceSerial, cfg.MerchantID)
	}

	e.log.Debug("Resolved device serial", zap.String("serial", cfg.DeviceSerial), zap.String("deviceId", deviceID))

	return deviceID, nil
}

// alertDevice asks the cloud to notify the terminal that we want to
// connect. The response carries the host and a one-shot token that
// together form the websocket address.
func (e *Endpoints) alertDevice(ctx context.Context, cfg *Configuration, deviceID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v2/merchant/%s/remote_pay?access_token=%s",
		cfg.Domain, cfg.MerchantID, url.QueryEscape(cfg.AccessToken))

	payload, err := sjson.SetBytes([]byte(`{"isSilent":true}`), "deviceId", deviceID)
	if err != nil {
		return "", wrapError(CommunicationError, err, "failed to build alert request")
	}

	body, err := e.post(ctx, endpoint, payload)
	if err != nil {
		return "", wrapError(CommunicationError, err, "device alert failed")
	}

	if !gjson.GetBytes(body, "sent").Bool() {
		return "", newError(DeviceOffline, "terminal %s is not reachable for connection notification", deviceID)
	}

	host := gjson.GetBytes(body, "host").String()
	token := gjson.GetBytes(body, "token").String()
	if host == "" || token == "" {
		return "", newError(CommunicationError, "device alert response is missing host or token")
	}

	return host + "/support/cs?token=" + url.QueryEscape(token), nil
}

func (e *Endpoints) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return e.do(req)
}

func (e *Endpoints) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *Endpoints) do(req *http.Request) ([]byte, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}
