package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"brain/internal/tasks"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show task status",
	Long: `Without arguments, lists the brain's live task keys. With a task id,
shows that task's status entry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	status := tasks.NewStatusWriter(env.Cache, cfg.Worker.TaskRetentionDuration())

	if len(args) == 0 {
		keys, err := status.List(ctx, brainID)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println(dimStyle.Render("no live tasks for brain " + brainID))
			return nil
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("tasks for %s (%d)", brainID, len(keys))))
		for _, key := range keys {
			id := strings.TrimPrefix(key, "task:")
			entry, err := status.Read(ctx, brainID, id)
			if err != nil || entry == nil {
				fmt.Println("  " + dimStyle.Render(id))
				continue
			}
			fmt.Printf("  %s  %s\n", statusStyle(string(entry.Status)).Render(fmt.Sprintf("%-9s", entry.Status)), valueStyle.Render(id))
		}
		return nil
	}

	entry, err := status.Read(ctx, brainID, args[0])
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no status for task %s", args[0])
	}
	fmt.Println(kv("task", entry.TaskID))
	fmt.Println(keyStyle.Render("status: ") + statusStyle(string(entry.Status)).Render(string(entry.Status)))
	if entry.Error != "" {
		fmt.Println(keyStyle.Render("error: ") + errorStyle.Render(entry.Error))
	}
	printPayload(entry.Payload)
	return nil
}
