// Package flags manages command-line flags and environment variables for the
// imagemeta CLI. It configures registry credentials, transport behavior, and
// logging via Cobra and Viper.
//
// Key components:
//   - RegisterRegistryFlags: Adds registry credential and transport flags.
//   - RegisterSystemFlags: Adds logging control flags.
//   - ReadRegistryFlags: Collects the registry settings into a struct.
//   - SetupLogging: Configures logrus based on flags.
//
// Usage example:
//
//	cmd := &cobra.Command{}
//	flags.SetDefaults()
//	flags.RegisterRegistryFlags(cmd)
//	flags.RegisterSystemFlags(cmd)
//	err := flags.SetupLogging(cmd.PersistentFlags())
//	if err != nil {
//	    logrus.WithError(err).Fatal("Logging setup failed")
//	}
//
// Every flag can also be supplied through an IMAGEMETA_-prefixed environment
// variable bound via Viper.
package flags
