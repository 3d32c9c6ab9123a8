package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newTagsCommand creates the tags subcommand, which lists every tag published
// for an image's repository, following registry pagination.
//
// Returns:
//   - *cobra.Command: The configured tags subcommand.
func newTagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tags IMAGE",
		Short: "Lists all tags published for an image's repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := newImage(args[0])
			if err != nil {
				return err
			}

			for _, tag := range img.Tags(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newTagsCommand())
}
