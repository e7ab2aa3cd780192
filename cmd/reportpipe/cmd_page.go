package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qaops/reportpipe/pkg/models"
	"github.com/qaops/reportpipe/pkg/pipeline"
	"github.com/qaops/reportpipe/pkg/summary"
	"github.com/qaops/reportpipe/pkg/wiki"
)

var pageFlags struct {
	version int
}

var pageCmd = &cobra.Command{
	Use:   "publish-page",
	Short: "Publish the wiki summary page with report attachments",
	Long: `Publish-page creates a versioned wiki page, uploads the report pair
as attachments and rewrites the page with download links. The version
defaults to the current counter value.`,
	RunE: runPage,
}

func init() {
	pageCmd.Flags().IntVar(&pageFlags.version, "version", 0, "Report version to publish (default: current counter value)")
}

func runPage(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	ver := pageFlags.version
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

	s, found, err := summary.ExtractFile(filepath.Join(cfg.ReportDir, cfg.RawLogName))
	if err != nil {
		return fmt.Errorf("failed to read raw test log: %w", err)
	}
	overall := models.OverallUnknown
	if found {
		overall = s.Overall()
	}

	client, err := newWikiClient(cfg, logger)
	if err != nil {
		return err
	}
	engine := newEngine(cfg, logger)

	now := time.Now()
	title := wiki.PageTitle(cfg.WikiTitle, ver, overall, now)
	body := wiki.ReportBody(ver, now, overall, summary.Line(s))

	pageID, err := client.CreatePage(ctx, cfg.WikiSpace, title, body)
	if err != nil {
		return fmt.Errorf("failed to create wiki page: %w", err)
	}

	links := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		outcome, err := engine.Upload(ctx, client.AttachmentTarget(pageID, a.Path, a.ContentType), cfg.MaxUploadAttempts)
		if err != nil {
			return err
		}
		if outcome.Class != models.OutcomeSuccess {
			return fmt.Errorf("wiki attachment failed for %s with status %d after %d attempts: %s",
				filepath.Base(a.Path), outcome.StatusCode, outcome.Attempts, outcome.Message)
		}
		name := filepath.Base(a.Path)
		links[name] = client.DownloadLink(pageID, name)
	}

	current, err := client.PageVersion(ctx, pageID)
	if err != nil {
		return fmt.Errorf("failed to read wiki page version: %w", err)
	}
	if err := client.UpdatePage(ctx, pageID, title, wiki.AppendAttachmentLinks(body, links), current+1); err != nil {
		return fmt.Errorf("failed to update wiki page with attachment links: %w", err)
	}

	pageURL := client.PageURL(cfg.WikiSpace, pageID)
	if cfg.PageURLFile != "" {
		if err := os.WriteFile(cfg.PageURLFile, []byte(pageURL+"\n"), 0o644); err != nil {
			logger.Warn("Failed to persist page URL", "path", cfg.PageURLFile, "error", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Page: %s\n", pageURL)
	return nil
}
