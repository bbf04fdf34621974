package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"brain/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the token-usage ledger",
	RunE:  runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	tracker, err := usage.NewTracker(cfg.DataDir)
	if err != nil {
		return err
	}
	ledger := tracker.Snapshot()

	fmt.Println(titleStyle.Render("token usage"))
	fmt.Println(kv("total", ledger.Total.String()))

	printBreakdown("by agent", ledger.ByAgent)
	printBreakdown("by model", ledger.ByModel)
	printBreakdown("by brain", ledger.ByBrain)
	return nil
}

func printBreakdown(title string, m map[string]usage.TokenDetail) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(titleStyle.Render(title))
	for _, k := range keys {
		fmt.Printf("  %s %s\n", keyStyle.Render(fmt.Sprintf("%-14s", k)), valueStyle.Render(m[k].String()))
	}
}
