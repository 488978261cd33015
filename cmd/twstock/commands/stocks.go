package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ycwei/twstock/internal/external/tpex"
	"github.com/ycwei/twstock/internal/external/twse"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/stocklist"
)

// stocksCmd represents the stocks command
var stocksCmd = &cobra.Command{
	Use:   "stocks",
	Short: "股票清單管理",
	Long: `檢視與維護股票設定檔。

Example:
  go run ./cmd/twstock stocks list
  go run ./cmd/twstock stocks add 6488 環球晶`,
}

// stocksListCmd represents the list subcommand
var stocksListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出設定檔內的股票",
	RunE:  runStocksList,
}

// stocksAddCmd represents the add subcommand
var stocksAddCmd = &cobra.Command{
	Use:   "add <code> <name>",
	Short: "新增股票到設定檔",
	Long: `新增一檔股票。未指定 --market 時會對兩個市場各做一次
探測查詢來決定歸屬。

Example:
  go run ./cmd/twstock stocks add 6488 環球晶
  go run ./cmd/twstock stocks add 2603 長榮 --market TSE`,
	Args: cobra.ExactArgs(2),
	RunE: runStocksAdd,
}

var (
	stocksAddMarket string
	stocksAddWatch  bool
)

func init() {
	rootCmd.AddCommand(stocksCmd)
	stocksCmd.AddCommand(stocksListCmd)
	stocksCmd.AddCommand(stocksAddCmd)

	stocksAddCmd.Flags().StringVar(&stocksAddMarket, "market", "", "市場別 (TSE|TPEX)，留空時自動探測")
	stocksAddCmd.Flags().BoolVar(&stocksAddWatch, "watch", true, "是否列入追蹤標的")
}

func runStocksList(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}

	if a.stocks.Len() == 0 {
		PrintWarning(fmt.Sprintf("股票設定檔 %s 沒有任何股票", a.cfg.StocksFile))
		return nil
	}

	PrintDoubleSeparator()
	fmt.Printf("%-8s %-12s %-6s %s\n", "代號", "名稱", "市場", "追蹤")
	PrintSeparator()
	for _, s := range a.stocks.All() {
		watch := "Y"
		if !s.Target {
			watch = "N"
		}
		fmt.Printf("%-8s %-12s %-6s %s\n", s.Code, s.Name, s.Market, watch)
	}
	PrintSeparator()
	fmt.Printf("共 %d 檔 (上市 %d / 上櫃 %d)\n",
		a.stocks.Len(),
		a.stocks.CountByMarket(market.TSE),
		a.stocks.CountByMarket(market.TPEX))
	return nil
}

func runStocksAdd(cmd *cobra.Command, args []string) error {
	code, name := args[0], args[1]

	a, err := bootstrap()
	if err != nil {
		return err
	}

	if _, exists := a.stocks.Get(code); exists {
		return fmt.Errorf("stock %s already configured", code)
	}

	m, err := resolveMarket(a, code)
	if err != nil {
		return err
	}

	s := stocklist.Stock{Code: code, Name: name, Market: m, Target: stocksAddWatch}
	if err := a.stocks.Append(a.cfg.StocksFile, s); err != nil {
		return fmt.Errorf("append stock: %w", err)
	}

	PrintSuccess(fmt.Sprintf("已新增 %s %s (%s) 到 %s", code, name, m, a.cfg.StocksFile))
	return nil
}

// resolveMarket takes the --market flag when given, otherwise probes
// both sources.
func resolveMarket(a *app, code string) (market.Market, error) {
	if stocksAddMarket != "" {
		m, known := market.ParseMarket(stocksAddMarket)
		if !known {
			return market.Unknown, fmt.Errorf("invalid market %q (valid: TSE, TPEX)", stocksAddMarket)
		}
		return m, nil
	}

	fmt.Printf("探測 %s 的市場歸屬...\n", code)
	ctx := context.Background()

	tseClient := twse.NewClient(a.cfg.TWSE, a.log)
	if tseClient.Probe(ctx, code) {
		fmt.Println("  → 上市 (TSE)")
		return market.TSE, nil
	}

	tpexClient := tpex.NewClient(a.cfg.TPEX, a.log)
	if tpexClient.Probe(ctx, code) {
		fmt.Println("  → 上櫃 (TPEX)")
		return market.TPEX, nil
	}

	return market.Unknown, fmt.Errorf("probe found no market for %s", code)
}
