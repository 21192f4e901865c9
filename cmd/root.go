package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/paylink/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "paylink",
	Short: "Drive point-of-sale payment terminals",
	Long: `Drive point-of-sale payment terminals over their websocket
protocol: run transactions, print, and simulate a terminal for local
development.`,
}

func init() {
	RootCmd.AddCommand(SaleCmd)
	RootCmd.AddCommand(SimulateCmd)
	RootCmd.AddCommand(VersionCmd)
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()
		fmt.Printf("paylink %s (%s, %s, built %s with %s)\n",
			info.Version, info.Build, info.Branch, info.BuildTime, info.GoVersion)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
