package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "twstock",
	Short: "台股每日股價收集工具 (TWSE/TPEX)",
	Long: `twstock Unified CLI

上市 (TWSE) 與上櫃 (TPEX) 每日股價的抓取、合併與正規化工具。
每檔股票一個 CSV 檔，民國紀年日期，逐日漲跌價差。

Usage:
  go run ./cmd/twstock [command]

Examples:
  go run ./cmd/twstock fetch
  go run ./cmd/twstock fetch 2330 --days 90
  go run ./cmd/twstock update
  go run ./cmd/twstock status
  go run ./cmd/twstock api`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
