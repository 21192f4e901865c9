package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/paylink/client"
	"github.com/luma/paylink/internal/env"
	"github.com/luma/paylink/storage"
)

var (
	// Amount to charge, in cents
	amount int64

	// Tip to add on top, in cents
	tip int64

	// Name keys the saved configuration
	configName string
)

func init() {
	flags := SaleCmd.PersistentFlags()

	flags.Int64VarP(&amount, "amount", "a", 0, "The amount to charge, in cents")
	flags.Int64VarP(&tip, "tip", "t", 0, "The tip to add, in cents")
	flags.StringVarP(&configName, "config", "c", "default", "The name of the saved terminal configuration")
}

var SaleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Run one sale against the configured terminal",
	Long: `Run one sale against the configured terminal

Usage
	paylink sale --amount 1250 --tip 250

The terminal is located through PAYLINK_* environment variables, or a
previously saved configuration of the given name.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		var store storage.Store
		if conf.DataDir != "" {
			store, err = storage.NewBadgerStore(conf.DataDir, log)
			if err != nil {
				return err
			}
			defer store.Close()
		}

		cfg := &client.Configuration{
			Name:          configName,
			DeviceAddress: conf.DeviceAddress,
			AccessToken:   conf.AccessToken,
			Domain:        conf.Domain,
			MerchantID:    conf.MerchantID,
			DeviceID:      conf.DeviceID,
			DeviceSerial:  conf.DeviceSerial,
			FriendlyID:    conf.FriendlyID,
		}

		// Fall back to whatever was saved last time for anything the
		// environment left blank.
		if store != nil {
			if saved, err := store.Load(ctx, configName); err == nil && saved != nil {
				mergeSaved(cfg, saved)
			}
		}

		c, err := client.New(client.Options{
			Config: cfg,
			Store:  store,
			Log:    log,
		})
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Connect(ctx); err != nil {
			return err
		}

		done := make(chan struct{})

		id, err := c.Sale(&client.SaleRequest{
			Amount:    amount,
			TipAmount: tip,
		}, func(err error, result *client.Result) {
			defer close(done)

			if err != nil {
				log.Error("Sale failed", zap.Error(err))
				return
			}

			log.Info("Sale complete",
				zap.String("paymentId", result.Payment.ID),
				zap.Int64("amount", result.Payment.Amount),
				zap.Int64("tip", result.Payment.TipAmount))
		})
		if err != nil {
			return err
		}

		log.Info("Transaction sent, waiting on the terminal", zap.String("correlationId", id))

		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("Interrupted before the terminal answered")
		}

		return nil
	},
}

func mergeSaved(cfg *client.Configuration, saved *storage.DeviceConfig) {
	if cfg.AccessToken == "" {
		cfg.AccessToken = saved.AccessToken
	}
	if cfg.Domain == "" {
		cfg.Domain = saved.Domain
	}
	if cfg.MerchantID == "" {
		cfg.MerchantID = saved.MerchantID
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = saved.DeviceID
	}
	if cfg.DeviceSerial == "" {
		cfg.DeviceSerial = saved.DeviceSerial
	}
}
