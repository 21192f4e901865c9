package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/paylink/client"
)

var _ = Describe("Endpoints", func() {
	var endpoints *client.Endpoints

	BeforeEach(func() {
		endpoints = client.NewEndpoints(zap.NewNop())
	})

	It("short-circuits when a device address is already known", func() {
		address, err := endpoints.ResolveAddress(context.Background(), &client.Configuration{
			DeviceAddress: "ws://terminal.local:12345/remote_pay",
		})

		Expect(err).To(Succeed())
		Expect(address).To(Equal("ws://terminal.local:12345/remote_pay"))
	})

	It("requires either an address or full cloud credentials", func() {
		_, err := endpoints.ResolveAddress(context.Background(), &client.Configuration{
			AccessToken: "token",
		})

		Expect(client.KindOf(err)).To(Equal(client.IncompleteConfiguration))
	})

	It("requires a device id or serial on the cloud path", func() {
		_, err := endpoints.ResolveAddress(context.Background(), &client.Configuration{
			AccessToken: "token",
			Domain:      "https://sandbox.example.com",
			MerchantID:  "VKYQ0RVGMYHRR",
		})

		Expect(client.KindOf(err)).To(Equal(client.IncompleteConfiguration))
	})

	It("resolves a serial to a device id and alerts the terminal", func() {
		var alertBody []byte
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v3/merchants/VKYQ0RVGMYHRR/devices":
				Expect(r.URL.Query().Get("access_token")).To(Equal("token"))
				w.Write([]byte(`{"elements":[
					{"id":"aaa","serial":"C030UQ11111111"},
					{"id":"bbb","serial":"C030UQ00000000"}
				]}`))

			case "/v2/merchant/VKYQ0RVGMYHRR/remote_pay":
				Expect(r.Method).To(Equal(http.MethodPost))
				body := make([]byte, r.ContentLength)
				r.Body.Read(body)
				alertBody = body
				w.Write([]byte(`{"sent":true,"host":"wss://device.example.com:12345","token":"one-shot"}`))

			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		cfg := &client.Configuration{
			AccessToken:  "token",
			Domain:       server.URL,
			MerchantID:   "VKYQ0RVGMYHRR",
			DeviceSerial: "C030UQ00000000",
		}

		address, err := endpoints.ResolveAddress(context.Background(), cfg)

		Expect(err).To(Succeed())
		Expect(address).To(Equal("wss://device.example.com:12345/support/cs?token=one-shot"))
		Expect(cfg.DeviceID).To(Equal("bbb"))
		Expect(gjson.GetBytes(alertBody, "deviceId").String()).To(Equal("bbb"))
		Expect(gjson.GetBytes(alertBody, "isSilent").Bool()).To(BeTrue())
	})

	It("reports an unknown serial as DeviceNotFound", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"elements":[{"id":"aaa","serial":"C030UQ11111111"}]}`))
		}))
		defer server.Close()

		_, err := endpoints.ResolveAddress(context.Background(), &client.Configuration{
			AccessToken:  "token",
			Domain:       server.URL,
			MerchantID:   "VKYQ0RVGMYHRR",
			DeviceSerial: "C030UQ00000000",
		})

		Expect(client.KindOf(err)).To(Equal(client.DeviceNotFound))
	})

	It("reports an unreachable terminal as DeviceOffline", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"sent":false}`))
		}))
		defer server.Close()

		_, err := endpoints.ResolveAddress(context.Background(), &client.Configuration{
			AccessToken: "token",
			Domain:      server.URL,
			MerchantID:  "VKYQ0RVGMYHRR",
			DeviceID:    "bbb",
		})

		Expect(client.KindOf(err)).To(Equal(client.DeviceOffline))
	})

	It("reports REST failures as CommunicationError", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := endpoints.ResolveAddress(context.Background(), &client.Configuration{
			AccessToken: "expired",
			Domain:      server.URL,
			MerchantID:  "VKYQ0RVGMYHRR",
			DeviceID:    "bbb",
		})

		Expect(client.KindOf(err)).To(Equal(client.CommunicationError))
	})
})
