package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query [operation]",
	Short: "Run a raw graph operation",
	Long: `Passes an operation string to the graph store in its own dialect and
prints the result. The engine never interprets the string.

Example:
  brain query "node(U, N, L) |> let X = fn:count(U)" -b research`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	out, err := env.Graph.ExecuteOperation(ctx, brainID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the brain's graph vocabulary",
	RunE:  runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	schema, err := env.Graph.GetSchema(ctx, brainID)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("schema for " + brainID))
	fmt.Println(kv("labels", strings.Join(schema.Labels, ", ")))
	fmt.Println(kv("relationships", strings.Join(schema.Relationships, ", ")))
	fmt.Println(kv("events", strings.Join(schema.EventNames, ", ")))
	return nil
}

var brainsCmd = &cobra.Command{
	Use:   "brains",
	Short: "List known brains",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := buildEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		brains, err := env.Docs.ListBrains(ctx)
		if err != nil {
			return err
		}
		if len(brains) == 0 {
			fmt.Println(dimStyle.Render("no brains yet"))
			return nil
		}
		for _, b := range brains {
			fmt.Println(valueStyle.Render(b))
		}
		return nil
	},
}
