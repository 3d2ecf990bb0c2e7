package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/app"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/config"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var (
	runFlow    string
	runOutput  string
	runVerbose bool
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run VIDEO_REF",
	Short: "Run a workflow in-process and print the results",
	Long: `Builds the service from the environment (and .env) and executes one workflow
without a server. The memory runstore is used unless REPURPOSE_RUNSTORE says otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runInProcess,
}

func init() {
	addInputFlags(runCmd)
	runCmd.Flags().StringVarP(&runFlow, "flow", "f", "", "Flow name (default: content_repurposing)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write the final state as JSON to this file")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Log at debug level")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print events")
	runCmd.MarkFlagsMutuallyExclusive("flow", "graph")
	rootCmd.AddCommand(runCmd)
}

func runInProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg := config.Load()
	cfg.RecoverOnStart = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if runVerbose {
		cfg.LogLevel = "debug"
		logger = config.NewLogger(cfg, cmd.ErrOrStderr())
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	graph, err := loadGraph(submitGraphFile)
	if err != nil {
		return err
	}
	if graph == nil {
		g, err := a.Orchestrator.Graph(ctx, runFlow)
		if err != nil {
			return err
		}
		graph = &g
	}

	in.VideoRef = args[0]
	id, err := a.Orchestrator.Submit(ctx, in, *graph)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "workflow %s started (%s)\n", id, graph.Name)

	printed := make(chan struct{})
	if runQuiet {
		close(printed)
	} else {
		events, cleanup, err := a.Store.Subscribe(ctx, id)
		if err != nil {
			return err
		}
		defer cleanup()
		go func() {
			defer close(printed)
			for evt := range events {
				printEvent(cmd.ErrOrStderr(), evt)
			}
		}()
	}

	st, err := a.Orchestrator.Wait(ctx, id)
	if err != nil {
		// Interrupted: cancel and give in-flight stages a moment to settle.
		_ = a.Orchestrator.Cancel(context.Background(), id)
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if st, err = a.Orchestrator.Wait(wctx, id); err != nil {
			return err
		}
	}

	select {
	case <-printed:
	case <-time.After(time.Second):
	}

	printState(cmd, st)
	if runOutput != "" {
		if err := writeState(runOutput, st); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "state written to %s\n", runOutput)
	}
	if st.Status == types.WorkflowStatusFailed {
		return fmt.Errorf("workflow %s failed", id)
	}
	return nil
}

func writeState(path string, st *types.PipelineState) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := printJSON(f, st); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
