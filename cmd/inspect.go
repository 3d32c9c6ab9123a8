package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// inspectOutput is the JSON document printed by the inspect subcommand.
type inspectOutput struct {
	Name        string          `json:"name"`
	Digest      string          `json:"digest"`
	ContentType string          `json:"contentType"`
	Manifest    json.RawMessage `json:"manifest"`
}

// newInspectCommand creates the inspect subcommand, which fetches an image's
// manifest and prints it together with its digest and media type.
//
// Returns:
//   - *cobra.Command: The configured inspect subcommand.
func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect IMAGE",
		Short: "Fetches an image's manifest and prints it with digest and media type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := newImage(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			m, err := img.Manifest(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch manifest for %s: %w", img, err)
			}

			imageDigest, err := img.Digest(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve digest for %s: %w", img, err)
			}

			contentType, err := img.ContentType(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve content type for %s: %w", img, err)
			}

			logrus.WithFields(logrus.Fields{
				"image":  img.String(),
				"digest": imageDigest,
			}).Debug("Inspected image")

			output, err := json.MarshalIndent(inspectOutput{
				Name:        img.String(),
				Digest:      imageDigest.String(),
				ContentType: contentType,
				Manifest:    m.Raw(),
			}, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render inspect output: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(output))

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newInspectCommand())
}
