// Package main implements the iptv-epg command.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/savid/iptv-epg/config"
	"github.com/savid/iptv-epg/internal/data"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("EPG generation failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "iptv-epg",
		Short:         "Generate an XMLTV guide for an M3U playlist",
		Long:          `Build an XMLTV guide for the channels of a local M3U playlist from a remote guide, or a placeholder schedule when no remote guide is usable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGenerate,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate the guide once",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Regenerate the guide on every refresh interval",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	})

	return rootCmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	generator, _, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := generator.Run(ctx)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"origin": result.Origin,
	}).Debug("Generation finished")
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	generator, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("interval", cfg.RefreshInterval).Info("Starting guide refresh loop")
	data.NewRefresher(generator, cfg.RefreshInterval, logger).Start(ctx)
	return nil
}

func setup(cmd *cobra.Command) (*data.Generator, *config.Config, *logrus.Logger, error) {
	cfg, err := config.New(cmd.Flags())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Set log level based on config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	logrus.SetLevel(level)

	logger := logrus.StandardLogger()
	generator := data.NewGenerator(cfg, data.NewFetcher(cfg, logger), logger)

	return generator, cfg, logger, nil
}
