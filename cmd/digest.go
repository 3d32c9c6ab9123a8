package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagemeta/pkg/pool"
)

// digestDefaultWorkers bounds concurrent registry lookups when resolving
// digests for multiple images.
const digestDefaultWorkers = 10

// digestResult pairs an image reference with its resolved digest.
type digestResult struct {
	name   string
	digest string
}

// newDigestCommand creates the digest subcommand, which resolves one or more
// image references to their manifest digests. Multiple images are resolved
// concurrently.
//
// Returns:
//   - *cobra.Command: The configured digest subcommand.
func newDigestCommand() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "digest IMAGE [IMAGE...]",
		Short: "Resolves image references to their manifest digests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := pool.Map(
				cmd.Context(),
				workers,
				args,
				func(ctx context.Context, imageURL string) (digestResult, error) {
					img, err := newImage(imageURL)
					if err != nil {
						return digestResult{}, err
					}

					imageDigest, err := img.Digest(ctx)
					if err != nil {
						return digestResult{}, fmt.Errorf(
							"failed to resolve digest for %s: %w",
							img,
							err,
						)
					}

					return digestResult{name: img.String(), digest: imageDigest.String()}, nil
				})
			if err != nil {
				return err
			}

			for _, result := range results {
				if len(args) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.name, result.digest)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), result.digest)
				}
			}

			return nil
		},
	}

	cmd.Flags().
		IntVar(&workers, "workers", digestDefaultWorkers, "Maximum number of concurrent registry lookups")

	return cmd
}

func init() {
	rootCmd.AddCommand(newDigestCommand())
}
