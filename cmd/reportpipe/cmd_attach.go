package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qaops/reportpipe/pkg/models"
	"github.com/qaops/reportpipe/pkg/pipeline"
	"github.com/qaops/reportpipe/pkg/tracker"
)

var attachFlags struct {
	executionKey string
	version      int
}

var attachCmd = &cobra.Command{
	Use:   "attach-reports",
	Short: "Attach the rendered reports to an execution issue",
	Long: `Attach-reports uploads the versioned report pair to the tracker
execution issue. The key comes from --execution-key or, when omitted,
from the key file written by an earlier import-results or
create-execution run. The version defaults to the current counter value.`,
	RunE: runAttach,
}

func init() {
	f := attachCmd.Flags()
	f.StringVar(&attachFlags.executionKey, "execution-key", "", "Execution issue key (default: read from the key file)")
	f.IntVar(&attachFlags.version, "version", 0, "Report version to attach (default: current counter value)")
}

func runAttach(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	key := attachFlags.executionKey
	if key == "" {
		key, err = pipeline.ReadExecutionKey(cfg.ExecKeyFile)
		if err != nil {
			return err
		}
	} else if err := tracker.ValidateIssueKey(key); err != nil {
		return err
	}

	ver := attachFlags.version
	if ver == 0 {
		store, err := newVersionStore(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to open version store: %w", err)
		}
		defer store.Close()
		ver, err = store.Current(ctx)
		if err != nil {
			return fmt.Errorf("failed to read current report version: %w", err)
		}
		if ver == 0 {
			return fmt.Errorf("no report version allocated yet; pass --version explicitly")
		}
	}

	artifacts, err := pipeline.LocateArtifacts(cfg, ver)
	if err != nil {
		return err
	}

	client, err := newTrackerClient(cfg, logger)
	if err != nil {
		return err
	}
	engine := newEngine(cfg, logger)
	for _, a := range artifacts {
		outcome, err := engine.Upload(ctx, client.AttachmentTarget(key, a.Path, a.ContentType), cfg.MaxUploadAttempts)
		if err != nil {
			return err
		}
		if outcome.Class != models.OutcomeSuccess {
			return fmt.Errorf("attachment failed for %s with status %d after %d attempts: %s",
				filepath.Base(a.Path), outcome.StatusCode, outcome.Attempts, outcome.Message)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Attached %d reports to %s\n", len(artifacts), key)
	return nil
}
