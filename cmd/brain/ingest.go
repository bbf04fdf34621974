package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"brain/internal/tasks"
)

var (
	ingestObservateFor string
	ingestWait         bool
	ingestJSON         bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Enqueue a document for ingestion",
	Long: `Reads a file (or stdin with "-") and enqueues an ingest_data task for the
selected brain. With --wait the command polls the task status until it
completes or fails.

Examples:
  brain ingest notes.txt -b research
  cat export.json | brain ingest - --json --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestObservateFor, "observate-for", "", "also generate observations about this entity")
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "poll until the task completes or fails")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "treat the input as a JSON object")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}

	input := tasks.IngestInput{DataType: "text", TextData: string(data)}
	if ingestJSON {
		var parsed map[string]interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("input is not a JSON object: %w", err)
		}
		input = tasks.IngestInput{DataType: "json", JSONData: parsed}
	}

	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	task, err := tasks.NewTask(tasks.TypeIngestData, brainID, &tasks.IngestDataPayload{
		Data:         input,
		ObservateFor: ingestObservateFor,
	})
	if err != nil {
		return err
	}
	if err := env.Queue.Enqueue(ctx, task); err != nil {
		return err
	}

	status := tasks.NewStatusWriter(env.Cache, cfg.Worker.TaskRetentionDuration())
	if err := status.Write(ctx, brainID, task.ID, tasks.StatusQueued, nil, nil); err != nil {
		return err
	}

	fmt.Println(kv("task", task.ID))
	fmt.Println(kv("brain", brainID))
	if !ingestWait {
		fmt.Println(dimStyle.Render("poll with: brain status " + task.ID))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		entry, err := status.Read(ctx, brainID, task.ID)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}
		switch entry.Status {
		case tasks.StatusCompleted:
			fmt.Println(okStyle.Render("completed"))
			printPayload(entry.Payload)
			return nil
		case tasks.StatusFailed:
			return fmt.Errorf("task failed: %s", entry.Error)
		}
	}
}

func printPayload(payload interface{}) {
	if payload == nil {
		return
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(dimStyle.Render(string(data)))
}
