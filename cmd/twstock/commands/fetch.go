package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ycwei/twstock/internal/collector"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch [code]",
	Short: "抓取股價資料",
	Long: `抓取每日股價並合併進既有的 CSV 序列。

不帶參數時處理設定檔內所有追蹤股票；帶股票代號時只處理該檔。
預設為增量模式：依既有資料與回看天數規劃缺少的月份。

Example:
  go run ./cmd/twstock fetch
  go run ./cmd/twstock fetch 2330
  go run ./cmd/twstock fetch 2330 --days 90
  go run ./cmd/twstock fetch --from 2024-01-02 --to 2024-03-29`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

var (
	fetchDays int
	fetchFrom string
	fetchTo   string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().IntVar(&fetchDays, "days", 0, "只抓最近 N 天並合併")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "區間起日 (YYYY-MM-DD)，寫入獨立目錄")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "區間迄日 (YYYY-MM-DD)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Println("=== twstock Fetch ===")

	a, err := bootstrap()
	if err != nil {
		return err
	}

	ctx := context.Background()
	rangeMode := fetchFrom != "" || fetchTo != ""

	var start, end time.Time
	if rangeMode {
		if fetchFrom == "" || fetchTo == "" {
			return fmt.Errorf("--from and --to must be used together")
		}
		start, err = time.Parse("2006-01-02", fetchFrom)
		if err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
		end, err = time.Parse("2006-01-02", fetchTo)
		if err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
	}

	// Single symbol
	if len(args) == 1 {
		code := args[0]
		var outcome collector.Outcome
		switch {
		case rangeMode:
			outcome = a.collector.FetchSymbolByRange(ctx, code, start, end)
		case fetchDays > 0:
			outcome = a.collector.FetchSymbolDays(ctx, code, fetchDays)
		default:
			outcome = a.collector.FetchSymbol(ctx, code)
		}

		var summary collector.Summary
		summary.Add(outcome)
		PrintSummary(summary)
		if outcome.Status == collector.StatusFailed {
			return fmt.Errorf("fetch %s: %w", code, outcome.Err)
		}
		return nil
	}

	// Whole universe
	if a.stocks.Len() == 0 {
		PrintWarning(fmt.Sprintf("股票設定檔 %s 沒有任何股票", a.cfg.StocksFile))
		return nil
	}

	var summary collector.Summary
	if rangeMode {
		summary = a.collector.FetchAllByRange(ctx, start, end)
	} else {
		summary = a.collector.FetchAll(ctx)
	}

	PrintSummary(summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d symbols failed", summary.Failed)
	}
	return nil
}
