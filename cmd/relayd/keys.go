package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"FeedRelay/internal/bridge"
	"FeedRelay/internal/oracle"
)

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// loadKey loads an existing private key, failing if it is missing.
func loadKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is required")
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory:\n%w", err)
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("write key file:\n%w", err)
	}

	return priv, nil
}

// KeyInfo describes the identities derived from a node key.
type KeyInfo struct {
	Address      oracle.Address
	PublicKey    string
	BLSPublicKey string
	BLSAddress   oracle.Address
}

// describeKey derives the guard address and the validator BLS identity of priv.
func describeKey(priv ed25519.PrivateKey) (*KeyInfo, error) {
	pub := priv.Public().(ed25519.PublicKey)

	bls, err := bridge.DeriveFromED25519(priv)
	if err != nil {
		return nil, fmt.Errorf("derive bls key:\n%w", err)
	}

	blsPub := bls.PublicKeyBytes()

	return &KeyInfo{
		Address:      oracle.AddressOf(pub),
		PublicKey:    hex.EncodeToString(pub),
		BLSPublicKey: hex.EncodeToString(blsPub),
		BLSAddress:   oracle.AddressOf(blsPub),
	}, nil
}

func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node key and print its derived identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("key file %s already exists", out)
			}

			priv, err := generateAndSaveKey(out)
			if err != nil {
				return err
			}

			info, err := describeKey(priv)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "key:            %s\n", out)
			fmt.Fprintf(w, "guard address:  %s\n", info.Address)
			fmt.Fprintf(w, "public key:     %s\n", info.PublicKey)
			fmt.Fprintf(w, "bls public key: %s\n", info.BLSPublicKey)
			fmt.Fprintf(w, "bls address:    %s\n", info.BLSAddress)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "node.key", "Output key path")

	return cmd
}
