package main

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() NodeConfig {
	return NodeConfig{
		IP:            "127.0.0.1",
		DNSServers:    []string{"1.1.1.1"},
		NodeType:      "standard",
		PortCount:     1,
		WalletAddress: "0xabc",
		DataDirectory: "/tmp/corenet",
		LogLevel:      "info",
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name string
		edit func(*NodeConfig)
	}{
		{"bad ip", func(c *NodeConfig) { c.IP = "not-an-ip" }},
		{"no dns servers", func(c *NodeConfig) { c.DNSServers = nil }},
		{"bad dns server", func(c *NodeConfig) { c.DNSServers = []string{"nope"} }},
		{"bad node type", func(c *NodeConfig) { c.NodeType = "weird" }},
		{"zero port count", func(c *NodeConfig) { c.PortCount = 0 }},
		{"empty wallet", func(c *NodeConfig) { c.WalletAddress = "" }},
		{"empty data dir", func(c *NodeConfig) { c.DataDirectory = "" }},
		{"bad log level", func(c *NodeConfig) { c.LogLevel = "shout" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.edit(&c)
			if err := c.validate(); err == nil {
				t.Fatalf("validate with %s: expected error, got nil", tt.name)
			}
		})
	}
}

func TestClandestinePortsAreConsecutive(t *testing.T) {
	c := NodeConfig{PortCount: 3}
	ports := c.clandestinePorts()
	if len(ports) != 3 {
		t.Fatalf("got %d ports, want 3", len(ports))
	}
	for i := 1; i < len(ports); i++ {
		if ports[i] != ports[i-1]+1 {
			t.Fatalf("ports not consecutive: %v", ports)
		}
	}
}

func TestParseNeighborsRejectsInvalidEntry(t *testing.T) {
	c := NodeConfig{Neighbors: []string{"not-valid-base64!!:::"}}
	if _, err := c.parseNeighbors(); err == nil {
		t.Fatal("parseNeighbors with invalid entry: expected error, got nil")
	}
}

func TestParseNeighborsAcceptsKeyOnly(t *testing.T) {
	c := NodeConfig{Neighbors: []string{"aGVsbG8="}} // base64("hello")
	refs, err := c.parseNeighbors()
	if err != nil {
		t.Fatalf("parseNeighbors: %v", err)
	}
	if len(refs) != 1 || string(refs[0].PublicKey) != "hello" {
		t.Fatalf("got %+v, want one ref with PublicKey=hello", refs)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "ip: 10.0.0.1\nnode_type: bootstrap\nport_count: 4\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.IP != "10.0.0.1" || cfg.NodeType != "bootstrap" || cfg.PortCount != 4 {
		t.Fatalf("got %+v, want ip=10.0.0.1 node_type=bootstrap port_count=4", cfg)
	}
}

func TestLoadConfigFileMissingFile(t *testing.T) {
	if _, err := loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("loadConfigFile on missing file: expected error, got nil")
	}
}

func TestDNSServerIPs(t *testing.T) {
	c := NodeConfig{DNSServers: []string{"1.1.1.1", "8.8.8.8"}}
	ips := c.dnsServerIPs()
	if len(ips) != 2 || ips[0].String() != "1.1.1.1" || ips[1].String() != "8.8.8.8" {
		t.Fatalf("got %v, want [1.1.1.1 8.8.8.8]", ips)
	}
}
