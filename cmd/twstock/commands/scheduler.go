package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ycwei/twstock/internal/scheduler"
	"github.com/ycwei/twstock/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "啟動排程器",
	Long: `啟動排程器，於每個交易日收盤後自動執行增量更新。

Jobs:
  daily_update - 週一至週五 18:00 更新過期序列

Example:
  go run ./cmd/twstock scheduler`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== twstock Scheduler ===")

	a, err := bootstrap()
	if err != nil {
		return err
	}

	sched := scheduler.New(a.log)
	if err := sched.AddJob(jobs.NewDailyUpdateJob(a.collector, a.log)); err != nil {
		return fmt.Errorf("add daily update job: %w", err)
	}

	sched.Start()
	fmt.Println("\n✅ Scheduler running")
	for _, name := range sched.Jobs() {
		fmt.Printf("  • %s\n", name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	return nil
}
