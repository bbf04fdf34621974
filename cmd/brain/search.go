package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"brain/internal/types"
)

var (
	searchCollection string
	searchLimit      int
)

var searchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Similarity-search a brain",
	Long: `Embeds the query text and searches one of the brain's vector collections
(nodes, relationships, observations, data), plus the raw text chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchCollection, "collection", "nodes", "vector collection to search")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	collection := types.Collection(searchCollection)
	known := false
	for _, c := range types.Collections {
		if c == collection {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown collection %q", searchCollection)
	}

	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	vec, err := env.Embedder.EmbedText(ctx, query)
	if err != nil {
		return err
	}
	if !vec.IsEmbedded() {
		return fmt.Errorf("query could not be embedded")
	}

	hits, err := env.Vectors.SearchVectors(ctx, vec, collection, brainID, searchLimit)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s matches for %q", collection, query)))
	if len(hits) == 0 {
		fmt.Println(dimStyle.Render("  none"))
	}
	for _, hit := range hits {
		label := hit.ID
		if name, ok := hit.Metadata["name"].(string); ok && name != "" {
			label = name
		} else if pred, ok := hit.Metadata["predicate"].(string); ok && pred != "" {
			label = pred
		}
		fmt.Printf("  %s  %s\n", okStyle.Render(fmt.Sprintf("%.3f", hit.Similarity())), valueStyle.Render(label))
	}

	chunks, err := env.Docs.Search(ctx, brainID, query)
	if err != nil || len(chunks) == 0 {
		return nil
	}
	fmt.Println(titleStyle.Render("text chunks"))
	for i, chunk := range chunks {
		if i >= searchLimit {
			break
		}
		text := chunk.Text
		if len(text) > 120 {
			text = text[:120] + "..."
		}
		fmt.Println("  " + dimStyle.Render(text))
	}
	return nil
}
