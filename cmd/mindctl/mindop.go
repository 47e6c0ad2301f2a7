package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mindgrate/backend/pkg/models"
)

var mindopCmd = &cobra.Command{
	Use:   "mindop",
	Short: "Manage your MindOp",
}

var mindopGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show your MindOp",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		m, err := c.GetMyMindOp(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), m)
	},
}

var mindopSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Create or rename your MindOp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		var desc *string
		if cmd.Flags().Changed("description") {
			d, _ := cmd.Flags().GetString("description")
			desc = &d
		}
		m, err := c.SaveMyMindOp(cmd.Context(), args[0], desc)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), m)
	},
}

var mindopIngestCmd = &cobra.Command{
	Use:   "ingest FILE.csv",
	Short: "Load a spreadsheet into your MindOp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		res, err := c.IngestSpreadsheet(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d rows into %d chunks\n", res.Rows, res.Chunks)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask your own MindOp a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		resp, err := c.Query(cmd.Context(), models.QueryRequest{Query: args[0], Mode: models.QueryModeMindOp})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if resp.Answer == nil {
			return printJSON(out, resp)
		}
		fmt.Fprintln(out, resp.Answer.Text)
		if verbose, _ := cmd.Flags().GetBool("sources"); verbose && len(resp.Answer.Sources) > 0 {
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIMILARITY\tDOCUMENT\tCHUNK")
			for _, hit := range resp.Answer.Sources {
				fmt.Fprintf(tw, "%.3f\t%s\t%d\n", hit.Similarity, hit.DocumentTitle, hit.ChunkIndex)
			}
			return tw.Flush()
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search TERM",
	Short: "Find other MindOps by name or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		mindops, err := c.SearchMindOps(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
		for _, m := range mindops {
			desc := ""
			if m.Description != nil {
				desc = *m.Description
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Name, desc)
		}
		return tw.Flush()
	},
}

func init() {
	mindopSaveCmd.Flags().String("description", "", "MindOp description")
	askCmd.Flags().Bool("sources", false, "List the chunks the answer was grounded on")
	searchCmd.Flags().Int("limit", 10, "Maximum number of results")
	mindopCmd.AddCommand(mindopGetCmd, mindopSaveCmd, mindopIngestCmd)
}
