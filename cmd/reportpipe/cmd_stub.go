package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/qaops/reportpipe/pkg/stub"
)

var stubFlags struct {
	addr           string
	pollsUntilDone int
	flakyEvery     int
}

var stubCmd = &cobra.Command{
	Use:   "stub-server",
	Short: "Run a local emulation of the remote services",
	Long: `Stub-server emulates the result import service, the issue tracker and
the wiki on one port, so the pipeline can be exercised end to end by
pointing RTM_BASE, JIRA_URL and CONFLUENCE_BASE at it.`,
	RunE: runStub,
}

func init() {
	f := stubCmd.Flags()
	f.StringVar(&stubFlags.addr, "addr", ":8787", "Listen address")
	f.IntVar(&stubFlags.pollsUntilDone, "polls-until-done", 3, "Status polls before an import job succeeds")
	f.IntVar(&stubFlags.flakyEvery, "flaky-every", 0, "Fail every Nth attachment upload with 503 (0 disables)")
}

func runStub(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	router := stub.SetupRouter(stub.NewServer(stub.Options{
		PollsUntilDone: stubFlags.pollsUntilDone,
		FlakyEvery:     stubFlags.flakyEvery,
	}, logger), cfg.RequestTimeout)

	server := &http.Server{
		Addr:         stubFlags.addr,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout + (5 * time.Second),
		WriteTimeout: cfg.RequestTimeout + (5 * time.Second),
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("Stub server starting", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Stub server failed to start or unexpectedly closed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Stub server graceful shutdown failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Stub server gracefully stopped")
	return nil
}
