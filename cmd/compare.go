package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errImagesDiffer signals a compare invocation where the images did not match,
// letting the process exit non-zero without an extra error message.
var errImagesDiffer = errors.New("images differ")

// newCompareCommand creates the compare subcommand, which checks whether two
// image references resolve to the same manifest content. With --contains, it
// instead checks whether the first image is one of the platform entries of the
// second image's multi-arch manifest list; with --base, whether the second
// image served as the first image's base image.
//
// Returns:
//   - *cobra.Command: The configured compare subcommand.
func newCompareCommand() *cobra.Command {
	var contains, base bool

	cmd := &cobra.Command{
		Use:   "compare IMAGE OTHER",
		Short: "Checks whether two image references point at the same content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := newImage(args[0])
			if err != nil {
				return err
			}

			other, err := newImage(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			var match bool

			switch {
			case contains:
				match, err = img.IsPartOf(ctx, other)
			case base:
				match, err = img.IsFrom(ctx, other)
			default:
				match, err = img.Equal(ctx, other)
			}

			if err != nil {
				return err
			}

			if !match {
				fmt.Fprintf(cmd.OutOrStdout(), "%s and %s differ\n", img, other)

				return errImagesDiffer
			}

			switch {
			case contains:
				fmt.Fprintf(cmd.OutOrStdout(), "%s is part of %s\n", img, other)
			case base:
				fmt.Fprintf(cmd.OutOrStdout(), "%s is built from %s\n", img, other)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s and %s match\n", img, other)
			}

			return nil
		},
	}

	cmd.Flags().
		BoolVar(&contains, "contains", false, "Check containment in a multi-arch manifest list instead of equality")
	cmd.Flags().
		BoolVar(&base, "base", false, "Check whether the second image is the first image's base image instead of equality")
	cmd.MarkFlagsMutuallyExclusive("contains", "base")

	return cmd
}

func init() {
	rootCmd.AddCommand(newCompareCommand())
}
