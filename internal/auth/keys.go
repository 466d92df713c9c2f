package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrKeyExists is returned by WriteKeyPair when either target file is
// already present. Rotating keys invalidates every issued operator token,
// so the caller has to remove the old files explicitly.
var ErrKeyExists = errors.New("auth: key file already exists")

// WriteKeyPair generates an Ed25519 pair and writes it as PKCS#8 and PKIX
// PEM files in the layout NewJWTManager reads. Both files get mode 0600 and
// missing parent directories are created with 0700.
func WriteKeyPair(privateKeyPath, publicKeyPath string) error {
	if privateKeyPath == "" || publicKeyPath == "" {
		return errors.New("auth: both key paths are required")
	}
	for _, path := range []string{privateKeyPath, publicKeyPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("auth: generate key pair: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("auth: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("auth: marshal public key: %w", err)
	}

	if err := writePEM(privateKeyPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(publicKeyPath, "PUBLIC KEY", pubDER); err != nil {
		_ = os.Remove(privateKeyPath)
		return err
	}
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("auth: create key directory: %w", err)
	}
	// O_EXCL closes the window between the Stat check and the write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
		return fmt.Errorf("auth: create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("auth: write %s: %w", path, err)
	}
	return f.Close()
}
