package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagemeta/pkg/reference"
	"github.com/nicholas-fedor/imagemeta/pkg/skopeo"
	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// newCopyCommand creates the copy subcommand, which copies an image between
// registries using the skopeo binary. The persistent credentials are forwarded
// to the source side; destination credentials have their own flags.
//
// Returns:
//   - *cobra.Command: The configured copy subcommand.
func newCopyCommand() *cobra.Command {
	var (
		dryRun       bool
		copyAll      bool
		destUsername string
		destPassword string
	)

	cmd := &cobra.Command{
		Use:   "copy SOURCE DESTINATION",
		Short: "Copies an image between registries using skopeo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcRef, err := reference.Parse(args[0])
			if err != nil {
				return err
			}

			dstRef, err := reference.Parse(args[1])
			if err != nil {
				return err
			}

			srcCreds := types.RegistryCredentials{
				Username: registrySettings.Username,
				Password: registrySettings.Password,
			}
			destCreds := types.RegistryCredentials{
				Username: destUsername,
				Password: destPassword,
			}

			return skopeo.New(dryRun).Copy(
				cmd.Context(),
				srcRef.String(),
				dstRef.String(),
				srcCreds,
				destCreds,
				copyAll,
			)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log the copy without executing it")
	cmd.Flags().
		BoolVar(&copyAll, "all", false, "Copy all architectures of the source tag instead of only the host's")
	cmd.Flags().StringVar(&destUsername, "dest-username", "", "Username for the destination registry")
	cmd.Flags().StringVar(&destPassword, "dest-password", "", "Password for the destination registry")

	return cmd
}

func init() {
	rootCmd.AddCommand(newCopyCommand())
}
