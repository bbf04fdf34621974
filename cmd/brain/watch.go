package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"brain/internal/tasks"
	"brain/internal/watch"
)

var watchWithWorkers bool

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a drop directory and ingest dropped files",
	Long: `Watches a directory and enqueues every dropped .txt/.md/.html/.json file
as an ingest_data task. Processed files move into a processed/ subdirectory.
With --workers the command also runs a worker pool, so dropped files are
ingested end to end by one process.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchWithWorkers, "workers", false, "also run the worker pool in this process")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	watcher, err := watch.NewDropWatcher(args[0], brainID, env.Queue)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Println(kv("watching", args[0]))
	fmt.Println(kv("brain", brainID))

	if !watchWithWorkers {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tasks.NewPool(env).Run(ctx)
	})
	return g.Wait()
}
