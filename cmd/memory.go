package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theapemachine/nire/pkg/memory"
)

var (
	sessionFlag    string
	roleFlag       string
	importanceFlag float64
	contextFlag    []string
	maxItemsFlag   int
	maxTokensFlag  int

	ingestCmd = &cobra.Command{
		Use:   "ingest [text]",
		Short: "Store one turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(ctx)

			item, err := eng.Ingest(ctx, memory.Turn{
				Text:       strings.Join(args, " "),
				Role:       roleFlag,
				SessionID:  sessionFlag,
				Importance: importanceFlag,
			})
			if err != nil {
				return err
			}

			item.Embedding = nil
			return printJSON(item)
		},
	}

	queryCmd = &cobra.Command{
		Use:   "query [text]",
		Short: "Retrieve fused context for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(ctx)

			result := eng.Query(ctx, memory.Query{
				Text:      strings.Join(args, " "),
				Context:   contextFlag,
				SessionID: sessionFlag,
				Budget:    memory.Budget{MaxItems: maxItemsFlag, MaxTokens: maxTokensFlag},
			})

			for i := range result.Items {
				result.Items[i].Item.Embedding = nil
			}

			return printJSON(result)
		},
	}
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)

	for _, cmd := range []*cobra.Command{ingestCmd, queryCmd} {
		cmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Conversation ID")
	}

	ingestCmd.Flags().StringVarP(&roleFlag, "role", "r", "user", "Who said it")
	ingestCmd.Flags().Float64VarP(&importanceFlag, "importance", "i", 0, "Importance between 0 and 1")

	queryCmd.Flags().StringSliceVarP(&contextFlag, "context", "c", nil, "Entities recently mentioned")
	queryCmd.Flags().IntVarP(&maxItemsFlag, "max-items", "n", 0, "Maximum memories to return")
	queryCmd.Flags().IntVar(&maxTokensFlag, "max-tokens", 0, "Approximate token budget")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}

	return nil
}
