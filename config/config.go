// Package config loads and validates the JSON configuration a
// delegate-node process starts from: the local delegate's identity, the
// rest of the delegate set, network listen addresses, the admission
// endpoint's settings, and the optional post-commit callback webhook.
//
// Grounded on original_source/logos/consensus/consensus_manager_config.hpp's
// ConsensusManagerConfig, whose DeserializeJson/SerializeJson pair reads
// and writes the same shape with boost::property_tree; this package does
// the equivalent with the standard library's encoding/json, the way the
// rest of this corpus's node configs (go-ethereum's TOML-based eth.Config
// aside) hand-roll JSON decode-then-validate rather than reach for a
// third-party config framework.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
)

// Delegate is one member of the delegate set as seen from config: its
// id, the address peers dial to reach it, and the port its delegate
// network listener binds.
type Delegate struct {
	ID       uint8  `json:"id"`
	IP       string `json:"ip"`
	PeerPort uint16 `json:"peer_port"`
}

// TxAcceptorConfig configures the admission endpoints that accept
// Requests from outside the delegate network: a list of upstream
// tx-acceptor addresses to advertise, the JSON and binary admission
// listener ports, a validate_sig flag, and the BLS public key
// (hex-encoded, compressed G1 point) that goes with it. Load checks that
// the key decodes when validate_sig is set; nothing else reads
// ValidateSig, and inbound request signatures are not verified.
type TxAcceptorConfig struct {
	TxAcceptors []string `json:"tx_acceptors"`
	JSONPort    uint16   `json:"json_port"`
	BinPort     uint16   `json:"bin_port"`
	ValidateSig bool     `json:"validate_sig"`
	BLSPubHex   string   `json:"bls_pub"`
}

// PublicKey decodes BLSPubHex into a bls.PublicKey. It is only valid to
// call when ValidateSig is true and BLSPubHex is non-empty.
func (c TxAcceptorConfig) PublicKey() (bls.PublicKey, error) {
	var pk bls.PublicKey
	raw, err := hex.DecodeString(c.BLSPubHex)
	if err != nil {
		return pk, fmt.Errorf("config: bls_pub is not valid hex: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("config: bls_pub is %d bytes, want %d", len(raw), len(pk))
	}
	copy(pk[:], raw)
	return pk, nil
}

// seconds marshals a time.Duration as a plain integer number of
// seconds, matching the property_tree representation used by
// microblock_generation_interval and similar interval fields in the
// upstream JSON config.
type seconds time.Duration

func (s seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(s) / time.Second))
}

func (s *seconds) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = seconds(time.Duration(n) * time.Second)
	return nil
}

// Config is the deserialized and validated contents of a delegate
// node's JSON configuration file.
type Config struct {
	DelegateID uint8      `json:"delegate_id"`
	Delegates  []Delegate `json:"delegates"`

	LocalAddress string `json:"local_address"`
	PeerPort     uint16 `json:"peer_port"`

	TxAcceptor TxAcceptorConfig `json:"tx_acceptor_config"`

	MicroblockGenerationInterval seconds `json:"microblock_generation_interval"`

	CallbackAddress string `json:"callback_address,omitempty"`
	CallbackPort    uint16 `json:"callback_port,omitempty"`
	CallbackTarget  string `json:"callback_target,omitempty"`
}

// MicroblockInterval returns the configured micro-block generation
// interval as a time.Duration.
func (c *Config) MicroblockInterval() time.Duration {
	return time.Duration(c.MicroblockGenerationInterval)
}

// HasCallback reports whether a post-commit webhook target was
// configured.
func (c *Config) HasCallback() bool {
	return c.CallbackAddress != "" && c.CallbackTarget != ""
}

// CallbackURL returns the fully assembled callback endpoint, valid only
// when HasCallback is true.
func (c *Config) CallbackURL() string {
	if c.CallbackPort == 0 {
		return fmt.Sprintf("http://%s/%s", c.CallbackAddress, c.CallbackTarget)
	}
	return fmt.Sprintf("http://%s:%d/%s", c.CallbackAddress, c.CallbackPort, c.CallbackTarget)
}

// Self returns the Delegate entry matching DelegateID.
func (c *Config) Self() (Delegate, bool) {
	for _, d := range c.Delegates {
		if d.ID == c.DelegateID {
			return d, true
		}
	}
	return Delegate{}, false
}

// applyDefaults fills in the values the upstream config treats as
// optional, the way eth.Config layers zero-value fields with
// production defaults before a node starts.
func (c *Config) applyDefaults() {
	if c.MicroblockGenerationInterval == 0 {
		c.MicroblockGenerationInterval = seconds(chain.MicroBlockInterval)
	}
	if c.LocalAddress == "" {
		c.LocalAddress = "0.0.0.0"
	}
}

// Validate reports whether c is well-formed enough to start a node:
// DelegateID names an entry in Delegates, delegate ids are unique, and
// the tx-acceptor's signature-validation settings are internally
// consistent.
func (c *Config) Validate() error {
	if len(c.Delegates) == 0 {
		return fmt.Errorf("config: delegates must not be empty")
	}
	if len(c.Delegates) > chain.NumDelegates {
		return fmt.Errorf("config: %d delegates exceeds NumDelegates=%d", len(c.Delegates), chain.NumDelegates)
	}

	seen := make(map[uint8]bool, len(c.Delegates))
	for _, d := range c.Delegates {
		if seen[d.ID] {
			return fmt.Errorf("config: duplicate delegate id %d", d.ID)
		}
		seen[d.ID] = true
		if d.IP == "" {
			return fmt.Errorf("config: delegate %d has no ip", d.ID)
		}
		if d.PeerPort == 0 {
			return fmt.Errorf("config: delegate %d has no peer_port", d.ID)
		}
	}
	if !seen[c.DelegateID] {
		return fmt.Errorf("config: delegate_id %d is not present in delegates", c.DelegateID)
	}
	if c.PeerPort == 0 {
		return fmt.Errorf("config: peer_port must be set")
	}

	if c.TxAcceptor.ValidateSig {
		if _, err := c.TxAcceptor.PublicKey(); err != nil {
			return fmt.Errorf("config: tx_acceptor_config.validate_sig is set but %w", err)
		}
	}
	if c.TxAcceptor.JSONPort == 0 && c.TxAcceptor.BinPort == 0 {
		return fmt.Errorf("config: tx_acceptor_config must set json_port or bin_port")
	}

	if (c.CallbackAddress == "") != (c.CallbackTarget == "") {
		return fmt.Errorf("config: callback_address and callback_target must be set together")
	}

	return nil
}

// Load reads, parses, defaults, and validates the configuration file at
// path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
