package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "增量更新過期的股價序列",
	Long: `只更新落後的股票：序列缺檔或最新一筆落後今日超過門檻
(上市 1 個交易日、上櫃 3 個交易日) 才會抓取。

排程器每個交易日收盤後跑的就是這個模式。

Example:
  go run ./cmd/twstock update`,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	fmt.Println("=== twstock Incremental Update ===")

	a, err := bootstrap()
	if err != nil {
		return err
	}

	summary := a.collector.UpdateStale(context.Background())
	PrintSummary(summary)

	if summary.Failed > 0 {
		return fmt.Errorf("%d symbols failed", summary.Failed)
	}
	return nil
}
