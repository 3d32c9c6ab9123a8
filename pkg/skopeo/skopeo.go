// Package skopeo wraps the external skopeo binary for the image operations
// this module deliberately does not implement itself: copying image content
// between registries and low-level inspection. Only metadata retrieval lives
// in pkg/registry; blob transfer is delegated here.
package skopeo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// ErrCmdFailed indicates the skopeo command exited non-zero.
var ErrCmdFailed = errors.New("skopeo command failed")

// Skopeo runs skopeo subcommands.
type Skopeo struct {
	// Binary is the executable to invoke; resolved via PATH when it is the
	// default "skopeo".
	Binary string
	// DryRun logs copy commands instead of executing them.
	DryRun bool
}

// New returns a Skopeo wrapper using the "skopeo" binary from PATH.
func New(dryRun bool) *Skopeo {
	return &Skopeo{Binary: "skopeo", DryRun: dryRun}
}

// Copy pulls the source image and pushes it to the destination repository,
// forwarding per-side credentials. With copyAll, all architectures of the
// source tag are copied instead of only the host's.
func (s *Skopeo) Copy(
	ctx context.Context,
	srcImage, dstImage string,
	srcCreds, destCreds types.RegistryCredentials,
	copyAll bool,
) error {
	args := []string{"copy"}
	if srcCreds.IsSet() {
		args = append(args, "--src-creds="+srcCreds.Username+":"+srcCreds.Password)
	}

	if destCreds.IsSet() {
		args = append(args, "--dest-creds="+destCreds.Username+":"+destCreds.Password)
	}

	if copyAll {
		args = append(args, "--all")
	}

	args = append(args, srcImage, dstImage)

	logrus.WithFields(logrus.Fields{
		"source":      srcImage,
		"destination": dstImage,
	}).Info("Copying image")

	if s.DryRun {
		logrus.Info("Dry run, skipping copy")

		return nil
	}

	_, err := s.run(ctx, args)

	return err
}

// Inspect returns skopeo's low-level information about an image. A non-nil
// error means the image is missing or inaccessible.
func (s *Skopeo) Inspect(
	ctx context.Context,
	image string,
	creds types.RegistryCredentials,
) ([]byte, error) {
	args := []string{"inspect"}
	if creds.IsSet() {
		args = append(args, "--creds="+creds.Username+":"+creds.Password)
	}

	args = append(args, image)

	return s.run(ctx, args)
}

// run executes the assembled command, logging stdout at debug level and
// stderr at error level on failure.
func (s *Skopeo) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.Binary, args...)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	for _, line := range strings.Split(stdout.String(), "\n") {
		if line != "" {
			logrus.Debug(line)
		}
	}

	if err != nil {
		for _, line := range strings.Split(stderr.String(), "\n") {
			if line != "" {
				logrus.Error(line)
			}
		}

		return nil, fmt.Errorf("%w: %w", ErrCmdFailed, err)
	}

	return stdout.Bytes(), nil
}
