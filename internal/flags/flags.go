package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// defaultTimeout is the default per-request timeout against registries.
const defaultTimeout = 30 * time.Second

// Errors for flag handling.
var (
	// errInvalidLogFormat indicates an invalid log format was specified.
	errInvalidLogFormat = errors.New("invalid log format specified")
	// errInvalidLogLevel indicates an invalid log level was specified.
	errInvalidLogLevel = errors.New("invalid log level specified")
	// errSetFlagFailed indicates a failure to read or set a flag's value.
	errSetFlagFailed = errors.New("failed to set flag value")
	// errReadFileFailed indicates a failure to read a secret file's contents.
	errReadFileFailed = errors.New("failed to read secret file")
)

// RegistrySettings collects the registry-facing flag values.
type RegistrySettings struct {
	Username        string        // Registry username.
	Password        string        // Registry password or token.
	AuthServer      string        // Host the credentials are restricted to.
	Timeout         time.Duration // Per-request timeout.
	Insecure        bool          // Skip TLS certificate verification.
	UseDockerConfig bool          // Fall back to Docker config credentials.
}

// RegisterRegistryFlags adds the registry credential and transport flags to
// the root command. Each flag defaults to its IMAGEMETA_-prefixed
// environment variable.
func RegisterRegistryFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"username",
		"u",
		envString("IMAGEMETA_USERNAME"),
		"Username for the image registry")

	flags.StringP(
		"password",
		"p",
		envString("IMAGEMETA_PASSWORD"),
		"Password or token for the image registry; a file path is read instead")

	flags.StringP(
		"auth-server",
		"",
		envString("IMAGEMETA_AUTH_SERVER"),
		"Only send the credentials when the target registry matches this host")

	flags.DurationP(
		"timeout",
		"t",
		envDuration("IMAGEMETA_TIMEOUT"),
		"Per-request timeout for registry requests")

	flags.BoolP(
		"insecure-skip-tls-verify",
		"",
		envBool("IMAGEMETA_INSECURE_SKIP_TLS_VERIFY"),
		"Skip TLS certificate verification for registry connections")

	flags.BoolP(
		"docker-config-auth",
		"",
		envBool("IMAGEMETA_DOCKER_CONFIG_AUTH"),
		"Look up missing credentials in the Docker config file")
}

// RegisterSystemFlags adds the logging control flags to the root command.
func RegisterSystemFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"log-level",
		"",
		envString("IMAGEMETA_LOG_LEVEL"),
		"The maximum log level that will be written to STDERR (panic, fatal, error, warn, info, debug, trace)")

	flags.StringP(
		"log-format",
		"",
		envString("IMAGEMETA_LOG_FORMAT"),
		"Sets what logging format to use (auto, json, logfmt, pretty)")

	flags.BoolP(
		"no-color",
		"",
		envBool("NO_COLOR"),
		"Disable color output in logging")

	flags.BoolP(
		"debug",
		"d",
		envBool("IMAGEMETA_DEBUG"),
		"Enable debug mode with verbose logging")

	flags.BoolP(
		"trace",
		"",
		envBool("IMAGEMETA_TRACE"),
		"Enable trace mode with extremely verbose logging")
}

// SetDefaults configures default values for environment variables.
// It ensures consistent fallback behavior when flags or variables are unset.
func SetDefaults() {
	viper.AutomaticEnv()
	viper.SetDefault("IMAGEMETA_TIMEOUT", defaultTimeout)
	viper.SetDefault("IMAGEMETA_LOG_LEVEL", "info")
	viper.SetDefault("IMAGEMETA_LOG_FORMAT", "auto")
}

// ReadRegistryFlags collects the registry settings from the parsed flags,
// resolving a password that references a file to that file's contents.
func ReadRegistryFlags(cmd *cobra.Command) (RegistrySettings, error) {
	flags := cmd.PersistentFlags()

	settings := RegistrySettings{}

	var err error

	if settings.Username, err = flags.GetString("username"); err != nil {
		return settings, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if settings.Password, err = flags.GetString("password"); err != nil {
		return settings, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if settings.AuthServer, err = flags.GetString("auth-server"); err != nil {
		return settings, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if settings.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return settings, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if settings.Insecure, err = flags.GetBool("insecure-skip-tls-verify"); err != nil {
		return settings, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if settings.UseDockerConfig, err = flags.GetBool("docker-config-auth"); err != nil {
		return settings, fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if settings.Password != "" && isFilePath(settings.Password) {
		content, err := os.ReadFile(settings.Password)
		if err != nil {
			return settings, fmt.Errorf("%w: %w", errReadFileFailed, err)
		}

		settings.Password = strings.TrimSpace(string(content))
	}

	return settings, nil
}

// ProcessFlagAliases synchronizes the log level with the debug and trace
// helper flags.
func ProcessFlagAliases(flags *pflag.FlagSet) {
	if flagIsEnabled(flags, "debug") {
		if err := flags.Set("log-level", "debug"); err != nil {
			logrus.Errorf("Failed to set log-level flag: %v", err)
		}
	}

	if flagIsEnabled(flags, "trace") {
		if err := flags.Set("log-level", "trace"); err != nil {
			logrus.Errorf("Failed to set log-level flag: %v", err)
		}
	}
}

// SetupLogging configures the global logger based on log-related flags.
// It sets the log format and level, returning an error for invalid configurations.
func SetupLogging(flags *pflag.FlagSet) error {
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if err := configureLogFormat(logFormat, noColor); err != nil {
		return err
	}

	rawLogLevel, err := flags.GetString("log-level")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	logLevel, err := logrus.ParseLevel(rawLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	logrus.SetLevel(logLevel)

	return nil
}

// configureLogFormat sets the logrus formatter based on the specified format
// and color preference. It returns an error if the format is invalid.
func configureLogFormat(logFormat string, noColor bool) error {
	switch strings.ToLower(logFormat) {
	case "auto":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:             noColor,
			EnvironmentOverrideColors: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "logfmt":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	case "pretty":
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !noColor,
			FullTimestamp: false,
		})
	default:
		return fmt.Errorf("%w: %s", errInvalidLogFormat, logFormat)
	}

	return nil
}

// flagIsEnabled checks if a boolean flag is set to true.
// It exits with a fatal error if the flag is not defined.
func flagIsEnabled(flags *pflag.FlagSet, name string) bool {
	value, err := flags.GetBool(name)
	if err != nil {
		logrus.Fatalf("The flag %q is not defined", name)
	}

	return value
}

// isFilePath determines if a string likely represents a file path.
// It checks for file existence, avoiding false positives from values
// containing colons such as URLs.
func isFilePath(path string) bool {
	firstColon := strings.IndexRune(path, ':')
	if firstColon != 1 && firstColon != -1 {
		return false
	}

	_, err := os.Stat(path)

	return !errors.Is(err, os.ErrNotExist)
}

// envString retrieves a string value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envString(key string) string {
	viper.MustBindEnv(key)

	return viper.GetString(key)
}

// envBool retrieves a boolean value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envBool(key string) bool {
	viper.MustBindEnv(key)

	return viper.GetBool(key)
}

// envDuration retrieves a duration value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envDuration(key string) time.Duration {
	viper.MustBindEnv(key)

	return viper.GetDuration(key)
}
