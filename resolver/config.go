// Package resolver implements the async stub-resolver client described in
// spec §4.5: parallel, retrying DNS queries surfaced as ordinary
// synchronous-looking calls to task code, built on miekg/dns for wire
// (de)serialization and on the root ratchet package's wait primitives for
// suspension.
package resolver

import (
	"bufio"
	"net"
	"os"
	"strings"

	"github.com/miekg/dns"
)

// Config is the resolver's view of /etc/resolv.conf: nameservers to query
// in order, and the UDP port they listen on (normally 53, but
// configurable for tests).
type Config struct {
	Servers  []string
	Port     int
	Timeout  int // seconds, per resolv.conf's "options timeout:N"
	Attempts int
}

// LoadConfig parses a resolv.conf-format file via miekg/dns's own
// ClientConfigFromFile — the wire/parsing library in the example pack
// already solves this, so resolv.conf parsing is not hand-rolled here.
func LoadConfig(path string) (*Config, error) {
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Servers:  cc.Servers,
		Port:     53,
		Timeout:  cc.Timeout,
		Attempts: cc.Attempts,
	}
	if p, err := net.LookupPort("udp", cc.Port); err == nil && p > 0 {
		cfg.Port = p
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	return cfg, nil
}

// HostsEntry is one parsed line of /etc/hosts.
type HostsEntry struct {
	IP    net.IP
	Names []string
}

// LoadHosts parses an /etc/hosts-format file. Unlike resolv.conf, no
// library in the example pack ships a standalone hosts-file parser
// (miekg/dns focuses on wire format, not this legacy text format), so this
// one is hand-rolled — see DESIGN.md.
func LoadHosts(path string) ([]HostsEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []HostsEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		entries = append(entries, HostsEntry{IP: ip, Names: fields[1:]})
	}
	return entries, sc.Err()
}

// LookupHosts finds every entry whose Names contains name (case-sensitive,
// matching the source's behavior).
func LookupHosts(entries []HostsEntry, name string) []net.IP {
	var ips []net.IP
	for _, e := range entries {
		for _, n := range e.Names {
			if n == name {
				ips = append(ips, e.IP)
			}
		}
	}
	return ips
}
