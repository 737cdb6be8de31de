package resolver

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration for a resolver.
//
//	mode: secure-with-fallback
//	hints_file: /etc/tinydns/root.hints
//	nameservers:
//	  - address: 192.168.1.1
//	    suffix: lan
//	  - address: 1.1.1.1
//	    doh: true
type Config struct {
	Mode        string         `yaml:"mode,omitempty"`
	HintsFile   string         `yaml:"hints_file,omitempty"`
	Nameservers []ConfigServer `yaml:"nameservers,omitempty"`
}

// ConfigServer is one nameserver entry. DoH is tri-state: absent means
// unknown.
type ConfigServer struct {
	Address string `yaml:"address"`
	DoH     *bool  `yaml:"doh,omitempty"`
	Suffix  string `yaml:"suffix,omitempty"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("resolver config: %w", err)
	}
	if _, err := c.mode(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) mode() (Mode, error) {
	switch c.Mode {
	case "", "insecure":
		return InsecureOnly, nil
	case "secure":
		return SecureOnly, nil
	case "secure-with-fallback":
		return SecureWithFallback, nil
	}
	return 0, fmt.Errorf("resolver config: unknown mode %q", c.Mode)
}

// Build constructs the resolver the config describes. With no servers
// and no hints file, platform auto-discovery applies.
func (c *Config) Build() (*Resolver, error) {
	mode, err := c.mode()
	if err != nil {
		return nil, err
	}

	var servers []NameServer
	for _, entry := range c.Nameservers {
		ip := net.ParseIP(entry.Address)
		if ip == nil {
			return nil, fmt.Errorf("resolver config: bad address %q", entry.Address)
		}
		ns := NameServer{Addr: ip, Suffix: entry.Suffix}
		if entry.DoH != nil {
			if *entry.DoH {
				ns.DoH = DoHYes
			} else {
				ns.DoH = DoHNo
			}
		}
		servers = append(servers, ns)
	}

	if c.HintsFile != "" {
		fromHints, err := LoadHints(c.HintsFile)
		if err != nil {
			return nil, err
		}
		servers = append(servers, fromHints...)
	}

	if len(servers) == 0 {
		return New(mode), nil
	}
	return NewWithServers(servers, mode), nil
}
