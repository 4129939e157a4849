package main

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cvsouth/corenet/neighborhood"
)

// NodeConfig is the fully-resolved, validated configuration for one node
// process: CLI flags win over --config file values, both are folded in
// here before any actor starts (spec §6/§7 ConfigError is detected here).
type NodeConfig struct {
	IP              string   `yaml:"ip"`
	DNSServers      []string `yaml:"dns_servers"`
	Neighbors       []string `yaml:"neighbors"`
	WalletAddress   string   `yaml:"wallet_address"`
	NodeType        string   `yaml:"node_type"`
	PortCount       int      `yaml:"port_count"`
	DNSTarget       string   `yaml:"dns_target"`
	DNSPort         uint16   `yaml:"dns_port"`
	LogLevel        string   `yaml:"log_level"`
	DataDirectory   string   `yaml:"data_directory"`
	MinimumHopCount int      `yaml:"minimum_hop_count"`
}

// loadConfigFile reads YAML config fields, used as defaults the CLI flags
// may then override.
func loadConfigFile(path string) (NodeConfig, error) {
	var cfg NodeConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// validate applies every ConfigError check spec §7/§8 requires before any
// actor is spawned.
func (c NodeConfig) validate() error {
	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("invalid --ip value %q", c.IP)
	}
	if len(c.DNSServers) == 0 {
		return fmt.Errorf("must specify at least one DNS server IP address after the --dns_servers parameter")
	}
	for _, s := range c.DNSServers {
		if net.ParseIP(s) == nil {
			return fmt.Errorf("invalid --dns_servers entry %q", s)
		}
	}
	if c.NodeType != "standard" && c.NodeType != "bootstrap" {
		return fmt.Errorf("invalid --node_type %q, must be standard or bootstrap", c.NodeType)
	}
	if c.PortCount < 1 {
		return fmt.Errorf("--port_count must be at least 1")
	}
	if c.WalletAddress == "" {
		return fmt.Errorf("--wallet_address must not be empty")
	}
	if c.DataDirectory == "" {
		return fmt.Errorf("--data_directory must not be empty")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log_level %q", c.LogLevel)
	}
	return nil
}

func (c NodeConfig) dnsServerIPs() []net.IP {
	out := make([]net.IP, 0, len(c.DNSServers))
	for _, s := range c.DNSServers {
		out = append(out, net.ParseIP(s))
	}
	return out
}

// clandestinePorts lays out PortCount consecutive ports above a fixed
// base, used both for the Dispatcher listener set and this node's own
// advertised NodeAddr.
func (c NodeConfig) clandestinePorts() []uint16 {
	const basePort = 7800
	ports := make([]uint16, c.PortCount)
	for i := range ports {
		ports[i] = uint16(basePort + i)
	}
	return ports
}

// parseNeighbors turns each repeated --neighbor value into a
// neighborhood.NodeReference.
func (c NodeConfig) parseNeighbors() ([]neighborhood.NodeReference, error) {
	refs := make([]neighborhood.NodeReference, 0, len(c.Neighbors))
	for _, n := range c.Neighbors {
		ref, err := neighborhood.ParseNodeReference(n)
		if err != nil {
			return nil, fmt.Errorf("invalid --neighbor %q: %w", n, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
