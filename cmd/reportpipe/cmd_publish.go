package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaops/reportpipe/pkg/pipeline"
	"github.com/qaops/reportpipe/pkg/rtm"
)

var publishFlags struct {
	project string
	jobURL  string
	archive string
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run the full publish sequence for the current report set",
	Long: `Publish allocates the next report version and runs every configured
stage: results import, tracker attachments, wiki page, archival and the
completion notification. Stages whose service is not configured are skipped.`,
	RunE: runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishFlags.project, "project", "", "Project key for the import and execution issue")
	f.StringVar(&publishFlags.jobURL, "job-url", "", "CI job URL recorded with the import")
	f.StringVar(&publishFlags.archive, "archive", "", "Raw results archive to import (empty skips the import stage)")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	store, err := newVersionStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open version store: %w", err)
	}
	defer store.Close()

	var rtmClient *rtm.Client
	var poller *rtm.Poller
	if cfg.RTMBase != "" && publishFlags.archive != "" {
		rtmClient, err = newRTMClient(cfg, logger)
		if err != nil {
			return err
		}
		poller = rtm.NewPoller(rtmClient, nil, logger)
	}

	trackerClient, wikiClient := optionalClients(cfg, logger)

	archiver, err := newArchiver(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact archiver: %w", err)
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize completion notifier: %w", err)
	}
	if notifier != nil {
		defer notifier.Close()
	}

	p := pipeline.New(cfg, store, newEngine(cfg, logger),
		rtmClient, poller, trackerClient, wikiClient, archiver, notifier, logger)

	result, err := p.Run(ctx, pipeline.Request{
		ProjectKey:     publishFlags.project,
		JobURL:         publishFlags.jobURL,
		ResultsArchive: publishFlags.archive,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published report v%d (%s)\n", result.Version, result.Overall)
	if result.ExecutionKey != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Execution: %s\n", result.ExecutionKey)
	}
	if result.PageURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Page: %s\n", result.PageURL)
	}
	return nil
}
