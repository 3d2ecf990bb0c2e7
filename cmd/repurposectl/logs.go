package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var (
	logsFollow bool
	logsType   string
	logsStage  string
)

var logsCmd = &cobra.Command{
	Use:   "logs WORKFLOW_ID",
	Short: "Print a workflow's event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if logsFollow {
			return followEvents(cmd, c, args[0], "")
		}

		q := url.Values{}
		if logsType != "" {
			q.Set("type", logsType)
		}
		if logsStage != "" {
			q.Set("stage", logsStage)
		}
		path := "/api/v1/workflows/" + args[0] + "/logs"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp struct {
			Entries []*types.Event `json:"entries"`
		}
		if err := c.do(cmd.Context(), "GET", path, nil, &resp); err != nil {
			return err
		}
		for _, evt := range resp.Entries {
			printEvent(cmd.OutOrStdout(), evt)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "F", false, "Stream events until the workflow finishes")
	logsCmd.Flags().StringVarP(&logsType, "type", "t", "", "Comma-separated event types to show")
	logsCmd.Flags().StringVar(&logsStage, "stage", "", "Only show events for this stage")
	rootCmd.AddCommand(logsCmd)
}

// followEvents reads the SSE stream until the server closes it.
func followEvents(cmd *cobra.Command, c *apiClient, workflowID, lastID string) error {
	req, err := c.request(cmd.Context(), "GET", "/api/v1/workflows/"+workflowID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	// The stream outlives the client's request timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return readSSE(resp.Body, func(evt *types.Event) {
		printEvent(cmd.OutOrStdout(), evt)
	})
}

// readSSE decodes data lines of an event stream, ignoring comments.
func readSSE(r io.Reader, fn func(*types.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var evt types.Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(&evt)
		if evt.Type == types.EventTypeStreamEnd {
			return nil
		}
	}
	return sc.Err()
}

func printEvent(w io.Writer, evt *types.Event) {
	scope := evt.Stage
	if evt.Agent != "" {
		scope += "/" + evt.Agent
	}
	if scope == "" {
		scope = "-"
	}
	fmt.Fprintf(w, "%s %5s %-15s %-28s %s\n",
		evt.Timestamp.Format("15:04:05.000"), evt.ID, evt.Type, scope, summarize(evt))
}

func summarize(evt *types.Event) string {
	switch evt.Type {
	case types.EventTypeWorkflowStatus:
		var d types.WorkflowStatusEvent
		if evt.Decode(&d) == nil {
			return strings.TrimSpace(string(d.Status) + " " + d.Error)
		}
	case types.EventTypeStageStatus:
		var d types.StageStatusEvent
		if evt.Decode(&d) == nil {
			if d.Error != "" {
				return fmt.Sprintf("%s: %s", d.Status, d.Error)
			}
			return string(d.Status)
		}
	case types.EventTypeThought:
		var d types.ThoughtEvent
		if evt.Decode(&d) == nil {
			return fmt.Sprintf("[%s %.2f] %s", d.Kind, d.Confidence, d.Content)
		}
	case types.EventTypeToolResponse:
		var d types.ToolResponseEvent
		if evt.Decode(&d) == nil {
			if !d.Success {
				return fmt.Sprintf("%s failed after %d attempts: %s", d.Tool, d.Attempts, d.Error)
			}
			return fmt.Sprintf("%s ok in %.2fs", d.Tool, d.ExecutionTime)
		}
	case types.EventTypeCritique:
		var d types.CritiqueEvent
		if evt.Decode(&d) == nil {
			return fmt.Sprintf("round %d score %.2f %s", d.Iteration, d.Score, d.Outcome)
		}
	case types.EventTypeProgress:
		var d types.ProgressEvent
		if evt.Decode(&d) == nil {
			return fmt.Sprintf("%d/%d", d.Completed, d.Total)
		}
	}
	return string(evt.Data)
}
