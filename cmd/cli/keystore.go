// -----------------------------------------------------------------------------
// keystore.go – file-backed ed25519 signer for `block create`
// -----------------------------------------------------------------------------
// Real signing key management lives outside the core, which only defines
// the Signer/Verifier seam it calls into. This is the CLI's own minimal
// implementation of that seam: a single ed25519 keypair
// persisted under CHAINSTORE_KEY_PATH, generated on first use.
// -----------------------------------------------------------------------------

package cli

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"synnergy-network/pkg/utils"
)

// fileSigner implements core.Signer and core.Verifier over a single
// ed25519 keypair loaded from (or generated into) a file.
type fileSigner struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// loadOrCreateSigner reads the keypair at path, generating and persisting a
// fresh one if the file doesn't exist yet.
func loadOrCreateSigner(path string) (*fileSigner, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("key file %q has unexpected length %d", path, len(data))
		}
		priv := ed25519.PrivateKey(data)
		return &fileSigner{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	pub, priv, genErr := ed25519.GenerateKey(nil)
	if genErr != nil {
		return nil, fmt.Errorf("generate key: %w", genErr)
	}
	if writeErr := os.WriteFile(path, priv, 0o600); writeErr != nil {
		return nil, fmt.Errorf("persist key file: %w", writeErr)
	}
	return &fileSigner{pub: pub, priv: priv}, nil
}

func (s *fileSigner) PublicKey() []byte { return s.pub }

func (s *fileSigner) Sign(msg []byte) ([64]byte, error) {
	var out [64]byte
	copy(out[:], ed25519.Sign(s.priv, msg))
	return out, nil
}

func (s *fileSigner) Verify(publicKey []byte, msg []byte, sig [64]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(publicKey), msg, sig[:])
}

func keyPath() string {
	return utils.EnvOrDefault("CHAINSTORE_KEY_PATH", "./chainstore.key")
}
