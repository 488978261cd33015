package commands

import (
	"fmt"

	"github.com/ycwei/twstock/internal/collector"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 所有指令共用同一套輸出格式
// ═══════════════════════════════════════════════════════════

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// statusIcon maps an outcome status to its display icon.
func statusIcon(status collector.Status) string {
	switch status {
	case collector.StatusUpdated:
		return "✅"
	case collector.StatusUpToDate:
		return "💤"
	case collector.StatusFailed:
		return "❌"
	default:
		return "⏭️"
	}
}

// PrintSummary prints a batch summary with per-symbol outcomes.
func PrintSummary(summary collector.Summary) {
	fmt.Println()
	PrintSeparator()
	for _, o := range summary.Outcomes {
		line := fmt.Sprintf("%s %-6s [%-7s] %-10s rows=%d", statusIcon(o.Status), o.Code, o.Market, o.Status, o.Rows)
		if o.Err != nil {
			line += "  " + o.Err.Error()
		}
		fmt.Println(line)
	}
	PrintSeparator()
	fmt.Printf("更新 %d / 已最新 %d / 失敗 %d / 略過 %d (共 %d 檔)\n",
		summary.Updated, summary.UpToDate, summary.Failed, summary.Skipped, len(summary.Outcomes))
}
