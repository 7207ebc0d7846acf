package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesim/core/journal"
)

var (
	journalBackend string
	journalPath    string
	journalRun     string
	journalKind    string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Journal related commands",
}

var journalQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print journal records as JSON lines",
	RunE:  runJournalQuery,
}

func init() {
	journalQueryCmd.Flags().StringVar(&journalBackend, "backend", "jsonl", "journal backend (jsonl, sqlite)")
	journalQueryCmd.Flags().StringVar(&journalPath, "path", "journal.jsonl", "journal file")
	journalQueryCmd.Flags().StringVar(&journalRun, "run", "", "only records of this run id")
	journalQueryCmd.Flags().StringVar(&journalKind, "kind", "", "only records of this kind")
	journalCmd.AddCommand(journalQueryCmd)
	rootCmd.AddCommand(journalCmd)
}

func runJournalQuery(cmd *cobra.Command, args []string) error {
	store, err := journal.Open(journal.Config{Backend: journalBackend, Path: journalPath})
	if err != nil {
		return err
	}
	defer store.Close()
	recs, err := store.Query(cmd.Context(), journal.Query{RunID: journalRun, Kind: journal.Kind(journalKind)})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
