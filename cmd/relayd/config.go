package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"FeedRelay/internal/logger"
	"FeedRelay/internal/oracle"
)

// envPrefix prefixes every environment override (FEEDRELAY_HTTP, ...).
const envPrefix = "FEEDRELAY"

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC gossip listen address.
	QUICAddress string

	// Peers are QUIC addresses of relays to gossip with.
	Peers []string

	// Fanout is the number of peers each submission is forwarded to.
	Fanout int

	// Bootstrap fetches a snapshot from a peer when the store is empty.
	Bootstrap bool

	// BootstrapKey is the identity of the only peer trusted for bootstrap.
	BootstrapKey ed25519.PublicKey

	// KeyPath is the path to the Ed25519 node key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 key.
	PrivateKey ed25519.PrivateKey

	// LogLevel is the minimum log level.
	LogLevel string

	// ExpectedFeed restricts the relay to one feed when set.
	ExpectedFeed *oracle.FeedID

	// Decimals is the answer precision reported by read adapters.
	Decimals uint8

	// Description names the feed for read adapters.
	Description string

	// ValidatorsPath is the JSON validator set file used by the bridge.
	ValidatorsPath string

	// Admin is the initial guard admin; zero means the node key address.
	Admin oracle.Address
}

// bindFlags registers the persistent configuration flags.
func bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()

	f.String("config", "", "YAML config file")
	f.String("data", "./data", "Data directory path")
	f.String("key", "", "Ed25519 node key path (generated if missing)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
}

// bindStartFlags registers the flags only used by start.
func bindStartFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String("http", ":8080", "HTTP API address")
	f.String("quic", ":7400", "QUIC gossip address")
	f.StringSlice("peers", nil, "Comma separated QUIC addresses of peer relays")
	f.Int("fanout", 8, "Peers each accepted submission is forwarded to (0 for all)")
	f.Bool("bootstrap", false, "Fetch a snapshot from a peer when the data directory is empty")
	f.String("bootstrap-key", "", "Hex Ed25519 key of the peer trusted for bootstrap")
	f.String("feed", "", "Accept only this feed id (64 hex chars)")
	f.Uint8("decimals", 18, "Decimals reported by read adapters")
	f.String("description", "", "Feed description reported by read adapters")
	f.String("validators", "", "Validator set JSON file (required)")
	f.String("admin", "", "Initial guard admin address (defaults to the node key address)")
}

// newViper creates a viper bound to cmd's flags, the environment and the config file.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags:\n%w", err)
	}

	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("bind flags:\n%w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s:\n%w", path, err)
		}
	}

	return v, nil
}

// initLogger applies the configured log level.
func initLogger(v *viper.Viper) error {
	level, err := logger.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}

	logger.InitWithLevel(level)

	return nil
}

// loadConfig builds the start configuration from viper.
func loadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataPath:       v.GetString("data"),
		HTTPAddress:    v.GetString("http"),
		QUICAddress:    v.GetString("quic"),
		Peers:          v.GetStringSlice("peers"),
		Fanout:         v.GetInt("fanout"),
		Bootstrap:      v.GetBool("bootstrap"),
		KeyPath:        keyPathOf(v),
		LogLevel:       v.GetString("log-level"),
		Decimals:       uint8(v.GetUint("decimals")),
		Description:    v.GetString("description"),
		ValidatorsPath: v.GetString("validators"),
	}

	if cfg.ValidatorsPath == "" {
		return nil, fmt.Errorf("validators file is required")
	}

	if v.GetUint("decimals") > 255 {
		return nil, fmt.Errorf("decimals out of range: %d", v.GetUint("decimals"))
	}

	if s := v.GetString("feed"); s != "" {
		f, err := oracle.ParseFeedID(s)
		if err != nil {
			return nil, fmt.Errorf("feed:\n%w", err)
		}

		cfg.ExpectedFeed = &f
	}

	if s := v.GetString("bootstrap-key"); s != "" {
		key, err := parsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("bootstrap key:\n%w", err)
		}

		cfg.BootstrapKey = key
	}

	if cfg.Bootstrap && cfg.BootstrapKey == nil {
		return nil, fmt.Errorf("bootstrap requires a bootstrap key")
	}

	if s := v.GetString("admin"); s != "" {
		admin, err := oracle.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("admin:\n%w", err)
		}

		cfg.Admin = admin
	}

	return cfg, nil
}

// parsePublicKey parses a hex Ed25519 public key, with or without 0x prefix.
func parsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode key:\n%w", err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(raw), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(raw), nil
}
