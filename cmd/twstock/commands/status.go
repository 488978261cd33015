package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ycwei/twstock/internal/market"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "資料來源連線自我檢測",
	Long: `對 TWSE 與 TPEX 各做一次輕量查詢，回報連線狀態與
設定檔內各市場的股票數。

Example:
  go run ./cmd/twstock status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== twstock Status ===")

	a, err := bootstrap()
	if err != nil {
		return err
	}

	results := a.collector.TestConnections(context.Background())

	fmt.Println()
	PrintDoubleSeparator()
	for _, m := range []market.Market{market.TSE, market.TPEX} {
		state := "連線失敗"
		icon := "❌"
		if results[m] {
			state = "連線正常"
			icon = "✅"
		}
		fmt.Printf("%s %-5s %s  (設定 %d 檔)\n", icon, m, state, a.stocks.CountByMarket(m))
	}
	PrintDoubleSeparator()
	PrintKeyValue("股票設定檔", a.cfg.StocksFile, 10)
	PrintKeyValue("資料目錄", a.cfg.DataDir, 10)
	PrintKeyValue("回看天數", fmt.Sprintf("%d", a.cfg.LookbackDays), 10)

	for _, ok := range results {
		if !ok {
			return fmt.Errorf("one or more sources unreachable")
		}
	}
	return nil
}
