// Package encrypt provides the one concrete Encryptor Shuttle ships:
// a thin wrapper over the gpg command line, in the same
// exec.CommandContext style as scan.ExecScanner (spec §4.8's Encryptor
// collaborator contract; the GPG binary itself is out of scope per
// spec §1, but a real invocation is needed for the binary to run).
package encrypt

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/shuttle-av/shuttle/internal/errs"
)

// GPGEncryptor shells out to gpg --encrypt using a recipient public
// key file, the conventional way to do file-at-rest encryption with no
// passphrase prompt (suitable for unattended runs).
type GPGEncryptor struct {
	Command string // defaults to "gpg" when empty
	Timeout time.Duration
}

// Encrypt implements disposition.Encryptor.
func (g GPGEncryptor) Encrypt(plainPath, cipherPath, publicKeyRef string) error {
	bin := g.Command
	if bin == "" {
		bin = "gpg"
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := []string{
		"--batch", "--yes",
		"--trust-model", "always",
		"--recipient-file", publicKeyRef,
		"--output", cipherPath,
		"--encrypt", plainPath,
	}

	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		return errs.Wrapf(errs.KindEncryptionError, err, "gpg encrypt %q: %s", plainPath, combined.String())
	}

	return nil
}
