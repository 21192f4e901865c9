package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/paylink/internal/env"
	"github.com/luma/paylink/simulator"
)

var (
	// The host to listen on
	simHost string

	// The port to listen for terminal clients on
	simPort int

	// The scripted transaction outcome
	simScript string
)

func init() {
	flags := SimulateCmd.PersistentFlags()

	flags.StringVar(&simHost, "host", "0.0.0.0", "The host to listen on")
	flags.IntVarP(&simPort, "port", "p", 12345, "The port to listen for terminal clients on")
	flags.StringVarP(&simScript, "script", "s", string(simulator.ScriptApprove),
		"Transaction outcome: approve, cancel or signature")
}

var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated payment terminal",
	Long: `Run a simulated payment terminal

Usage
	paylink simulate --port 12345 --script signature

Point a client at ws://<host>:<port>/remote_pay.
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

		sim := simulator.New(simulator.Options{
			Host:      simHost,
			Port:      simPort,
			Reuseport: true,
			Script:    simulator.Script(simScript),
			DebugHTTP: conf.DebugHTTP,
			Log:       log,
		})

		if err := sim.Start(ctx); err != nil {
			return err
		}

		// Listen for the interrupt signal.
		<-ctx.Done()

		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if err := sim.Close(); err != nil {
			log.Error("Simulator forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
