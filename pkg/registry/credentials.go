package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	dockerCliConfig "github.com/docker/cli/cli/config"
	dockerConfigConfigfile "github.com/docker/cli/cli/config/configfile"
	dockerConfigCredentials "github.com/docker/cli/cli/config/credentials"
	dockerConfigTypes "github.com/docker/cli/cli/config/types"

	"github.com/distribution/reference"

	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// Domains for Docker Hub, whose config-file credentials are stored under the
// legacy index host rather than the registry domain.
const (
	defaultRegistryDomain = "docker.io"
	defaultRegistryHost   = "index.docker.io"
)

// Errors for credential lookup.
var (
	// errFailedParseImageName indicates the image name could not be
	// normalized into a docker-style reference for config lookup.
	errFailedParseImageName = errors.New("failed to parse image name")
	// errFailedLoadDockerConfig indicates the Docker configuration file
	// could not be loaded.
	errFailedLoadDockerConfig = errors.New("failed to load Docker config")
)

// ConfigCredentials looks up registry credentials for an image name in the
// Docker config file (and its configured credential helpers). The image name
// is normalized with docker's own reference rules, since that is how the
// config file keys its entries. Missing credentials are not an error; the
// zero value is returned.
func ConfigCredentials(imageName string) (types.RegistryCredentials, error) {
	fields := logrus.Fields{
		"image": imageName,
	}

	normalizedRef, err := reference.ParseNormalizedNamed(imageName)
	if err != nil {
		return types.RegistryCredentials{}, fmt.Errorf(
			"%w: %w",
			errFailedParseImageName,
			err,
		)
	}

	server := reference.Domain(normalizedRef)
	if server == defaultRegistryDomain {
		server = defaultRegistryHost
	}

	configDir := os.Getenv("DOCKER_CONFIG")
	if configDir == "" {
		configDir = dockerCliConfig.Dir()
	}

	configFile, err := dockerCliConfig.Load(configDir)
	if err != nil {
		logrus.WithError(err).
			WithFields(fields).
			WithField("config_dir", configDir).
			Debug("Failed to load Docker config")

		return types.RegistryCredentials{}, fmt.Errorf(
			"%w: %w",
			errFailedLoadDockerConfig,
			err,
		)
	}

	credStore := CredentialsStore(*configFile)

	auth, _ := credStore.Get(server)
	if auth == (dockerConfigTypes.AuthConfig{}) {
		logrus.WithFields(fields).WithFields(logrus.Fields{
			"server":      server,
			"config_file": configFile.Filename,
		}).Debug("No credentials found in config")

		return types.RegistryCredentials{}, nil
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"username": auth.Username,
		"server":   server,
	}).Debug("Loaded auth credentials from config")

	return types.RegistryCredentials{
		Username: auth.Username,
		Password: auth.Password,
	}, nil
}

// CredentialsStore returns a credentials store based on the settings in the
// configuration file, using the native helper when one is configured.
func CredentialsStore(configFile dockerConfigConfigfile.ConfigFile) dockerConfigCredentials.Store {
	if configFile.CredentialsStore != "" {
		return dockerConfigCredentials.NewNativeStore(&configFile, configFile.CredentialsStore)
	}

	return dockerConfigCredentials.NewFileStore(&configFile)
}
