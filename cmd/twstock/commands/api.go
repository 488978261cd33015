package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ycwei/twstock/internal/api"
	"github.com/ycwei/twstock/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "啟動 API 伺服器",
	Long: `啟動 REST API 伺服器。

Endpoints:
  GET  /health                     - Health check
  GET  /api/status                 - 資料來源連線狀態
  GET  /api/stocks                 - 股票清單
  GET  /api/stocks/{code}/prices   - 單檔股價序列
  POST /api/collect                - 觸發收集

Example:
  go run ./cmd/twstock api
  go run ./cmd/twstock api --port 8087`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 伺服器埠號 (預設取自設定)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== twstock API Server ===")

	a, err := bootstrap()
	if err != nil {
		return err
	}
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	dataHandler := handlers.NewDataHandler(a.collector, a.log)
	router := api.NewRouter(dataHandler, a.log)
	server := api.New(a.cfg, a.log, router)

	go func() {
		if err := server.Start(); err != nil {
			a.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/status")
	fmt.Println("  GET  /api/stocks")
	fmt.Println("  GET  /api/stocks/{code}/prices")
	fmt.Println("  POST /api/collect")
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
