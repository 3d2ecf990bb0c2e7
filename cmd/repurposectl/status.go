package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [WORKFLOW_ID]",
	Short: "Show one workflow, or list recent ones",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if len(args) == 0 {
			var list struct {
				Workflows []types.Summary `json:"workflows"`
			}
			if err := c.do(cmd.Context(), "GET", "/api/v1/workflows?limit=20", nil, &list); err != nil {
				return err
			}
			if statusJSON {
				return printJSON(cmd.OutOrStdout(), list.Workflows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tCREATED")
			for _, s := range list.Workflows {
				fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%s\n", s.WorkflowID, s.Status, s.Progress*100, s.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		}

		var st types.PipelineState
		if err := c.do(cmd.Context(), "GET", "/api/v1/workflows/"+args[0], nil, &st); err != nil {
			return err
		}
		if statusJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printState(cmd, &st)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel WORKFLOW_ID",
	Short: "Cancel a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(cmd.Context(), "POST", "/api/v1/workflows/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tcancelling\n", args[0])
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print raw JSON")
	rootCmd.AddCommand(statusCmd, cancelCmd)
}

func printState(cmd *cobra.Command, st *types.PipelineState) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow: %s\nStatus:   %s\nProgress: %.0f%%\n", st.WorkflowID, st.Status, st.Progress*100)
	if st.Metrics.TotalTokens > 0 || st.Metrics.TotalCost > 0 {
		fmt.Fprintf(out, "Tokens:   %d\nCost:     $%.4f\n", st.Metrics.TotalTokens, st.Metrics.TotalCost)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTAGE\tAGENT\tOK\tCONFIDENCE\tSECONDS")
	for _, spec := range st.Graph.Stages {
		res, ok := st.StageResults[spec.Name]
		if !ok {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\n", spec.Name, spec.Agent)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%.2f\t%.1f\n", spec.Name, res.AgentName, res.Success, res.Confidence, res.ExecutionTime)
	}
	_ = tw.Flush()

	for _, e := range st.Errors {
		fmt.Fprintf(out, "error: %s [%s] %s\n", e.Stage, e.Kind, e.Message)
	}
}
