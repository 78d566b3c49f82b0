// Package config loads the relay's per-chain configuration (spec.md §6).
// Grounded on the teacher's own startup-time config validation idiom
// (geth's node.Config / eth.Config: parse once, log.Crit on anything
// missing or malformed) using gopkg.in/yaml.v3, a direct dependency of the
// teacher's go.mod.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainKind distinguishes the two follower flavors named in spec.md §9.
type ChainKind string

const (
	KindEChain ChainKind = "echain"
	KindXChain ChainKind = "xchain"
)

// Chain is one entry of the per-chain configuration table in spec.md §6.
type Chain struct {
	Kind ChainKind `yaml:"kind"`

	RPCURL         string `yaml:"rpc_url"`
	MinHeight      uint64 `yaml:"min_height"`
	SignMinHeight  uint64 `yaml:"sign_min_height"`
	HotPrivateKey  string `yaml:"my_hot_private_key"`
	HotAddresses   []string `yaml:"hot_addresses"`

	// E-chain only.
	PortalAddress         string `yaml:"portal_address,omitempty"`
	L1BlockContractAddress string `yaml:"l1_block_contract_address,omitempty"`
	IsL2                  bool   `yaml:"is_l2,omitempty"`
	ChainIDNumber         uint64 `yaml:"chain_id_number,omitempty"`

	// X-chain only.
	PortalLauncherID  string   `yaml:"portal_launcher_id,omitempty"`
	PortalThreshold   int      `yaml:"portal_threshold,omitempty"`
	PortalKeys        []string `yaml:"portal_keys,omitempty"`
	MultisigThreshold int      `yaml:"multisig_threshold,omitempty"`
	MultisigKeys      []string `yaml:"multisig_keys,omitempty"`
	PerMessageToll    uint64   `yaml:"per_message_toll,omitempty"`
	AggSigData        string   `yaml:"agg_sig_data,omitempty"`

	// BridgingPuzzleHash is the fixed 32-byte program identity bridging
	// requests are paid to (GLOSSARY "Bridging puzzle hash"). Not named in
	// spec.md's configuration table as a distinct option, but required by
	// any concrete deployment to know which puzzle hash the listener (C5)
	// scans.
	BridgingPuzzleHash string `yaml:"bridging_puzzle_hash,omitempty"`
}

// Nostr holds the gossip publisher's endpoints and identity (spec.md §6).
type Nostr struct {
	Relays     []string `yaml:"relays"`
	MyMnemonic string   `yaml:"my_mnemonic"`
}

// Config is the full relay configuration: one Chain per configured chain
// tag, plus the shared Nostr publisher settings.
type Config struct {
	Chains map[string]Chain `yaml:"chains"`
	Nostr  Nostr            `yaml:"nostr"`

	// DatabasePath is the sqlite DSN for the persistent store (component
	// C1); not named in spec.md's configuration table but required by
	// any concrete deployment.
	DatabasePath string `yaml:"database_path"`

	// LocalSignatureLogPath is the append-only local log file the
	// publisher writes every signature to before attempting to
	// broadcast it (spec.md §4.3).
	LocalSignatureLogPath string `yaml:"local_signature_log_path"`
}

// Load reads and validates the configuration at path. Any missing or
// malformed required key is a configuration error (spec.md §7 kind 4):
// returned here so the caller can log.Crit and exit at startup, before any
// follower begins running.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if len(c.Nostr.Relays) == 0 {
		return fmt.Errorf("nostr.relays is required")
	}
	if c.Nostr.MyMnemonic == "" {
		return fmt.Errorf("nostr.my_mnemonic is required")
	}

	for tag, chain := range c.Chains {
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %q: rpc_url is required", tag)
		}
		if chain.HotPrivateKey == "" {
			return fmt.Errorf("chain %q: my_hot_private_key is required", tag)
		}
		switch chain.Kind {
		case KindEChain:
			if chain.PortalAddress == "" {
				return fmt.Errorf("chain %q: portal_address is required for echain", tag)
			}
			if chain.IsL2 && chain.L1BlockContractAddress == "" {
				return fmt.Errorf("chain %q: l1_block_contract_address is required when is_l2 is true", tag)
			}
		case KindXChain:
			if chain.PortalLauncherID == "" {
				return fmt.Errorf("chain %q: portal_launcher_id is required for xchain", tag)
			}
			if chain.PerMessageToll == 0 {
				return fmt.Errorf("chain %q: per_message_toll is required for xchain", tag)
			}
			if chain.AggSigData == "" {
				return fmt.Errorf("chain %q: agg_sig_data is required for xchain", tag)
			}
			if chain.BridgingPuzzleHash == "" {
				return fmt.Errorf("chain %q: bridging_puzzle_hash is required for xchain", tag)
			}
		default:
			return fmt.Errorf("chain %q: unknown kind %q (want %q or %q)", tag, chain.Kind, KindEChain, KindXChain)
		}
	}

	return nil
}
