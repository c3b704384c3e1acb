package fhe

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// walletKeyEnv is the environment variable the "env" provider source reads.
const walletKeyEnv = "VEILMKT_WALLET_PRIVATE_KEY"

// ProviderSource is one candidate source of a signing identity. Multiple
// sources may be present at once; they are disambiguated by an explicit
// ordered list rather than implicit fallback chaining.
type ProviderSource interface {
	// Name is the identifier used in the configured resolution order.
	Name() string
	// Available reports whether this source can currently supply a key.
	Available() bool
	// Connect resolves the source into a signer for the given chain.
	Connect(chainID int) (*crypto.Signer, error)
}

// StaticSource supplies an explicitly injected private key. It takes priority
// when placed first in the resolution order.
type StaticSource struct {
	PrivateKeyHex string
}

func (s *StaticSource) Name() string    { return "static" }
func (s *StaticSource) Available() bool { return s.PrivateKeyHex != "" }

func (s *StaticSource) Connect(chainID int) (*crypto.Signer, error) {
	return crypto.NewSigner(s.PrivateKeyHex, chainID)
}

// EnvSource reads the wallet key from the process environment.
type EnvSource struct{}

func (s *EnvSource) Name() string    { return "env" }
func (s *EnvSource) Available() bool { return os.Getenv(walletKeyEnv) != "" }

func (s *EnvSource) Connect(chainID int) (*crypto.Signer, error) {
	return crypto.NewSigner(os.Getenv(walletKeyEnv), chainID)
}

// KeystoreSource decrypts a password-protected key file.
type KeystoreSource struct {
	Path     string
	Password string
}

func (s *KeystoreSource) Name() string    { return "keystore" }
func (s *KeystoreSource) Available() bool { return s.Path != "" }

func (s *KeystoreSource) Connect(chainID int) (*crypto.Signer, error) {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		EncryptedKeyPath: s.Path,
		KeyPassword:      s.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("fhe: keystore source: %w", err)
	}
	return crypto.NewSigner(keyHex, chainID)
}

// ResolveProvider walks the ordered candidate list once and connects the
// first available source. The order is a first-class configuration value;
// resolution happens at startup, not per call.
//
// Returns domain.ErrProviderUnavailable when no candidate can supply a key.
func ResolveProvider(order []string, sources []ProviderSource, chainID int, logger *slog.Logger) (*crypto.Signer, error) {
	byName := make(map[string]ProviderSource, len(sources))
	for _, src := range sources {
		byName[src.Name()] = src
	}

	for _, name := range order {
		src, ok := byName[name]
		if !ok {
			logger.Warn("unknown provider source in resolution order",
				slog.String("source", name),
			)
			continue
		}
		if !src.Available() {
			continue
		}

		signer, err := src.Connect(chainID)
		if err != nil {
			return nil, fmt.Errorf("fhe: provider %s: %w", name, err)
		}
		logger.Info("signing provider resolved",
			slog.String("source", name),
			slog.String("address", signer.Address().Hex()),
		)
		return signer, nil
	}

	return nil, fmt.Errorf("fhe: %w (tried %v)", domain.ErrProviderUnavailable, order)
}

// DefaultSources builds the standard candidate set from configuration.
func DefaultSources(staticKey, keystorePath, keystorePassword string) []ProviderSource {
	return []ProviderSource{
		&StaticSource{PrivateKeyHex: staticKey},
		&EnvSource{},
		&KeystoreSource{Path: keystorePath, Password: keystorePassword},
	}
}
