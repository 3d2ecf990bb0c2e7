package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var (
	submitFlow      string
	submitGraphFile string
	submitFollow    bool
	in              types.WorkflowInput
)

var submitCmd = &cobra.Command{
	Use:   "submit VIDEO_REF",
	Short: "Submit a video for repurposing",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

// addInputFlags registers the workflow input flags shared by submit and run.
func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&in.BrandVoice, "brand-voice", "", "Brand voice description")
	f.StringSliceVarP(&in.Keywords, "keyword", "k", nil, "Target keyword (repeatable)")
	f.BoolVar(&in.EnableCritique, "critique", true, "Run the critique loop on generated artifacts")
	f.BoolVar(&in.TrackCosts, "track-costs", true, "Record token usage and cost")
	f.Float64Var(&in.QualityThreshold, "quality-threshold", 0, "Critique score that ends refinement (0 = server default)")
	f.IntVar(&in.MaxIterations, "max-iterations", 0, "Critique rounds per artifact (0 = server default)")
	f.StringVar((*string)(&in.Mode), "mode", "", "SEQUENTIAL, PARALLEL or ADAPTIVE")
	f.StringVar(&in.Language, "language", "", "Transcript language hint")
	f.StringVar(&submitGraphFile, "graph", "", "Path to a stage graph JSON file")
}

func init() {
	addInputFlags(submitCmd)
	submitCmd.Flags().StringVarP(&submitFlow, "flow", "f", "", "Saved flow name (default: content_repurposing)")
	submitCmd.Flags().BoolVarP(&submitFollow, "follow", "F", false, "Stream events until the workflow finishes")
	submitCmd.MarkFlagsMutuallyExclusive("flow", "graph")
	rootCmd.AddCommand(submitCmd)
}

func loadGraph(path string) (*types.StageGraph, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var g types.StageGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return &g, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	in.VideoRef = args[0]
	graph, err := loadGraph(submitGraphFile)
	if err != nil {
		return err
	}

	body := struct {
		types.WorkflowInput
		Flow  string            `json:"flow,omitempty"`
		Graph *types.StageGraph `json:"graph,omitempty"`
	}{in, submitFlow, graph}

	var resp struct {
		WorkflowID string `json:"workflow_id"`
		Status     string `json:"status"`
		Flow       string `json:"flow"`
	}
	c := newClient()
	if err := c.do(cmd.Context(), "POST", "/api/v1/workflows", body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", resp.WorkflowID, resp.Status, resp.Flow)

	if !submitFollow {
		return nil
	}
	return followEvents(cmd, c, resp.WorkflowID, "")
}
