package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencontainers/go-digest"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newWatchCommand creates the watch subcommand, which periodically re-resolves
// the digests of the given image references and logs whenever a tag starts
// pointing at different content. It runs until interrupted.
//
// Returns:
//   - *cobra.Command: The configured watch subcommand.
func newWatchCommand() *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "watch IMAGE [IMAGE...]",
		Short: "Periodically re-resolves image digests and reports changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), schedule, args)
		},
	}

	cmd.Flags().
		StringVar(&schedule, "schedule", "@every 5m", "Cron-formatted schedule for digest checks")

	return cmd
}

// runWatch schedules periodic digest checks for the given image references and
// blocks until an interrupt signal or context cancellation. A lock channel
// ensures checks never overlap when a run outlasts the schedule interval.
//
// Parameters:
//   - ctx: The context controlling the scheduler's lifecycle.
//   - schedule: The cron-formatted schedule specification.
//   - imageURLs: The image references to track.
//
// Returns:
//   - error: An error if the schedule specification is invalid, nil on shutdown.
func runWatch(ctx context.Context, schedule string, imageURLs []string) error {
	known := make(map[string]digest.Digest, len(imageURLs))

	// First resolution establishes the baseline before scheduling begins.
	checkDigests(ctx, imageURLs, known)

	lock := make(chan bool, 1)
	lock <- true

	scheduler := cron.New()
	if err := scheduler.AddFunc(schedule, func() {
		select {
		case v := <-lock:
			defer func() { lock <- v }()
			checkDigests(ctx, imageURLs, known)
		default:
			logrus.Debug("Skipped check, another one is still running")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule digest checks: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"schedule": schedule,
		"images":   len(imageURLs),
	}).Info("Watching images for digest changes")

	scheduler.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logrus.Debug("Context canceled, stopping scheduler")
	case <-interrupt:
		logrus.Debug("Received interrupt signal, stopping scheduler")
	}

	scheduler.Stop()
	<-lock

	return nil
}

// checkDigests resolves the current digest for every watched reference and
// logs transitions against the previously seen digests in known.
func checkDigests(ctx context.Context, imageURLs []string, known map[string]digest.Digest) {
	for _, imageURL := range imageURLs {
		img, err := newImage(imageURL)
		if err != nil {
			logrus.WithError(err).WithField("image", imageURL).Warn("Skipping unparsable image")

			continue
		}

		currentDigest, err := img.Digest(ctx)
		if err != nil {
			logrus.WithError(err).WithField("image", img.String()).Warn("Failed to resolve digest")

			continue
		}

		previous, seen := known[imageURL]
		known[imageURL] = currentDigest

		switch {
		case !seen:
			logrus.WithFields(logrus.Fields{
				"image":  img.String(),
				"digest": currentDigest,
			}).Info("Tracking image")
		case previous != currentDigest:
			logrus.WithFields(logrus.Fields{
				"image":      img.String(),
				"old_digest": previous,
				"new_digest": currentDigest,
			}).Info("Image digest changed")
		default:
			logrus.WithFields(logrus.Fields{
				"image":  img.String(),
				"digest": currentDigest,
			}).Debug("Image digest unchanged")
		}
	}
}

func init() {
	rootCmd.AddCommand(newWatchCommand())
}
