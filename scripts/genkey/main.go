// genkey writes a persistent Ed25519 key pair for operator token signing.
//
//	go run ./scripts/genkey
//
// Target paths come from JWT_PRIVATE_KEY and JWT_PUBLIC_KEY (environment or
// .env, resolved the same way the server resolves them) and fall back to
// data/jwt_private.pem and data/jwt_public.pem. Existing files are never
// overwritten.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/config"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "genkey: %v\n", err)
		os.Exit(1)
	}
	privPath, pubPath := keyPaths(cfg)

	if err := auth.WriteKeyPair(privPath, pubPath); err != nil {
		if errors.Is(err, auth.ErrKeyExists) {
			fmt.Fprintf(os.Stderr, "genkey: %v (remove both files to rotate; issued tokens stop validating)\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "genkey: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("wrote %s\nwrote %s\n", privPath, pubPath)
	if cfg.JWTPrivateKeyPath == "" {
		fmt.Printf("export JWT_PRIVATE_KEY=%s JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
	}
}

func keyPaths(cfg config.Config) (string, string) {
	priv, pub := cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath
	if priv == "" {
		priv = filepath.Join("data", "jwt_private.pem")
	}
	if pub == "" {
		pub = filepath.Join(filepath.Dir(priv), "jwt_public.pem")
	}
	return priv, pub
}
