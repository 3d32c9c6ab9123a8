package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagemeta/internal/flags"
	"github.com/nicholas-fedor/imagemeta/pkg/reference"
	"github.com/nicholas-fedor/imagemeta/pkg/registry"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/cache"
	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// registrySettings holds the registry-facing configuration collected during preRun.
//
// It is populated from the --username, --password, --auth-server, --timeout,
// --insecure-skip-tls-verify, and --docker-config-auth flags or their IMAGEMETA_
// environment variables, and consulted by every subcommand that talks to a registry.
var registrySettings flags.RegistrySettings

// responseCache is the manifest response cache shared by all images created
// during a single invocation, so repeated lookups against the same registry
// can be answered without refetching manifest bodies.
var responseCache *cache.Store

// rootCmd represents the root command for the imagemeta CLI, serving as the entry point for all subcommands.
var rootCmd = NewRootCommand()

// NewRootCommand creates and configures the root command for the imagemeta CLI.
//
// It establishes the base usage string ("imagemeta"), a short description summarizing its purpose,
// and a long description with additional context and a project URL.
//
// Returns:
//   - *cobra.Command: A pointer to the fully configured root command, ready for flag registration and execution.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "imagemeta",
		Short:             "Queries container image registries for manifests, digests, and tags",
		Long:              "\nimagemeta talks to Docker Registry HTTP API V2 and OCI registries to resolve\nimage manifests, digests, and tags without pulling image content.\nMore information available at https://github.com/nicholas-fedor/imagemeta/.",
		PersistentPreRun:  preRun,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
}

// init registers command-line flags for the root command during package initialization.
//
// It invokes functions from the flags package to set default values and register flags for
// registry access (e.g., --username) and system behavior (e.g., --log-level), establishing
// the CLI's configurable parameters before execution begins.
func init() {
	flags.SetDefaults()
	flags.RegisterRegistryFlags(rootCmd)
	flags.RegisterSystemFlags(rootCmd)
}

// Execute runs the root command and manages any errors encountered during its execution.
//
// It serves as the primary entry point for the imagemeta CLI, called from main.go, and ensures that any
// fatal errors are logged and terminate the program with an appropriate exit status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("Failed to execute root command")
	}
}

// preRun prepares the environment and configuration before subcommand execution begins.
//
// It processes flag aliases, configures logging based on verbosity settings, and collects
// the registry settings shared by all subcommands.
//
// Parameters:
//   - cmd: The cobra.Command instance being executed, providing access to parsed flags.
//   - _: A slice of string arguments (unused here, as image references are handled per subcommand).
func preRun(cmd *cobra.Command, _ []string) {
	flagsSet := cmd.Root().PersistentFlags()
	flags.ProcessFlagAliases(flagsSet)

	if err := flags.SetupLogging(flagsSet); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logging")
	}

	var err error

	registrySettings, err = flags.ReadRegistryFlags(cmd.Root())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to read registry flags")
	}

	responseCache = cache.NewStore()
}

// newImage constructs a registry image from the given reference string, applying the
// credentials, transport, and cache configuration gathered from the persistent flags.
//
// When no explicit credentials are set and --docker-config-auth is enabled, the local
// Docker configuration is consulted for credentials matching the image's registry.
//
// Parameters:
//   - imageURL: The image reference string, e.g. "quay.io/app-sre/ubi8-ubi:latest".
//   - extra: Additional image options appended after the flag-derived ones.
//
// Returns:
//   - *registry.Image: The configured image handle.
//   - error: Non-nil if the reference cannot be parsed or credentials cannot be loaded.
func newImage(imageURL string, extra ...registry.Option) (*registry.Image, error) {
	credentials := types.RegistryCredentials{
		Username: registrySettings.Username,
		Password: registrySettings.Password,
	}

	if !credentials.IsSet() && registrySettings.UseDockerConfig {
		ref, err := reference.Parse(imageURL)
		if err != nil {
			return nil, err
		}

		configCredentials, err := registry.ConfigCredentials(ref.Name())
		if err != nil {
			return nil, err
		}

		credentials = configCredentials
	}

	opts := []registry.Option{
		registry.WithCredentials(credentials.Username, credentials.Password),
		registry.WithAuthServer(registrySettings.AuthServer),
		registry.WithTimeout(registrySettings.Timeout),
		registry.WithResponseCache(responseCache),
	}
	if registrySettings.Insecure {
		opts = append(opts, registry.WithInsecureSkipVerify())
	}

	opts = append(opts, extra...)

	return registry.New(imageURL, opts...)
}
