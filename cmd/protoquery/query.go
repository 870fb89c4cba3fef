package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/transport/wire"
)

var (
	queryText    string
	querySources []string
	queryTopK    int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run one retrieval and print the JSON response",
	Long: `Embed a question, search the configured vector store and print the ranked
snippets exactly as the HTTP endpoint would return them.

Examples:
  protoquery query -q "chest pain management" -s acls
  protoquery query -q "pediatric bradycardia" -s pals -s local-ems -k 3`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "question", "q", "", "question to search for (required)")
	queryCmd.Flags().StringSliceVarP(&querySources, "source", "s", nil, "source tag to search (repeatable, required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	_ = queryCmd.MarkFlagRequired("question")
}

func runQuery(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	req := wire.QueryRequest{Question: queryText, Sources: querySources}
	if cmd.Flags().Changed("top-k") {
		req.TopK = &queryTopK
	}

	ctx, usage := domain.NewContextWithUsage(cmd.Context())
	resp, err := a.retrieval.Query(ctx, req.ToRetrieval())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err != nil {
		_ = enc.Encode(wire.ErrorResponse{Error: wire.MessageFor(err)})
		return fmt.Errorf("query failed (%s): %w", domain.KindOf(err), err)
	}

	if err := enc.Encode(wire.FromResponse(resp)); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if tokens, used := usage.Snapshot(); used {
		fmt.Fprintf(cmd.ErrOrStderr(), "embedding tokens: %d\n", tokens)
	}
	return nil
}
