package neighborhood

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cvsouth/corenet/wallet"
)

func walletFromAddress(addr string) wallet.Wallet { return wallet.New(addr) }

// SeedCache is a best-effort on-disk cache of the last-known bootstrap
// neighbor's GossipNodeRecord, consulted only before the first gossip
// round on process start so a node started offline can still attempt a
// reconnect to its last known bootstrap address. Node records otherwise
// live only for the process lifetime (spec §3) — this is not a general
// database persistence layer, just a reconnect hint. Adapted from the
// teacher's directory.Cache disk-caching idiom.
type SeedCache struct {
	Dir string
}

type cachedSeedRecord struct {
	PublicKey       string   `json:"public_key"`
	IP              string   `json:"ip"`
	Ports           []uint16 `json:"ports"`
	IsBootstrapNode bool     `json:"is_bootstrap_node"`
	EarningWallet   string   `json:"earning_wallet"`
	Version         uint32   `json:"version"`
	Complete        string   `json:"complete_sig"`
	Obscured        string   `json:"obscured_sig"`
}

func (c SeedCache) path() string {
	return filepath.Join(c.Dir, "bootstrap-seed.json")
}

// Save writes rec as the last-known bootstrap seed. A record with no
// NodeAddr is not worth caching as a reconnect hint and is skipped.
func (c SeedCache) Save(rec GossipNodeRecord) error {
	if c.Dir == "" {
		return fmt.Errorf("neighborhood: cache directory not set")
	}
	if rec.Inner.NodeAddr == nil {
		return nil
	}
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("neighborhood: create cache dir: %w", err)
	}
	cached := cachedSeedRecord{
		PublicKey:       base64.StdEncoding.EncodeToString(rec.Inner.PublicKey),
		IP:              rec.Inner.NodeAddr.IP.String(),
		Ports:           rec.Inner.NodeAddr.Ports,
		IsBootstrapNode: rec.Inner.IsBootstrapNode,
		EarningWallet:   rec.Inner.EarningWallet.Address,
		Version:         rec.Inner.Version,
		Complete:        base64.StdEncoding.EncodeToString(rec.Sigs.Complete),
		Obscured:        base64.StdEncoding.EncodeToString(rec.Sigs.Obscured),
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("neighborhood: marshal seed cache: %w", err)
	}
	return os.WriteFile(c.path(), data, 0600)
}

// Load reads back the last-saved bootstrap seed record, if any.
func (c SeedCache) Load() (GossipNodeRecord, bool) {
	if c.Dir == "" {
		return GossipNodeRecord{}, false
	}
	data, err := os.ReadFile(c.path())
	if err != nil {
		return GossipNodeRecord{}, false
	}
	var cached cachedSeedRecord
	if err := json.Unmarshal(data, &cached); err != nil {
		return GossipNodeRecord{}, false
	}
	ref, err := ParseNodeReference(fmt.Sprintf("%s:%s:%s", cached.PublicKey, cached.IP, portCSV(cached.Ports)))
	if err != nil {
		return GossipNodeRecord{}, false
	}
	inner := NodeRecordInner{
		PublicKey:       ref.PublicKey,
		NodeAddr:        ref.NodeAddr,
		IsBootstrapNode: cached.IsBootstrapNode,
		EarningWallet:   walletFromAddress(cached.EarningWallet),
		Version:         cached.Version,
	}
	complete, err := base64.StdEncoding.DecodeString(cached.Complete)
	if err != nil {
		return GossipNodeRecord{}, false
	}
	obscured, err := base64.StdEncoding.DecodeString(cached.Obscured)
	if err != nil {
		return GossipNodeRecord{}, false
	}
	return GossipNodeRecord{
		Inner: inner,
		Sigs:  NodeSignatures{Complete: complete, Obscured: obscured},
	}, true
}
