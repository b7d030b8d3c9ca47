package registry

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
)

// Allowlist is the static set of peer addresses allowed to connect. It is
// loaded once at startup and never modified afterwards.
type Allowlist struct {
	addrs map[string]struct{}
}

// LoadAllowlist reads an allowlist file.
func LoadAllowlist(path string) (*Allowlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allowlist: %w", err)
	}
	defer f.Close()

	al, err := ParseAllowlist(f)
	if err != nil {
		return nil, fmt.Errorf("read allowlist %s: %w", path, err)
	}
	return al, nil
}

// ParseAllowlist reads whitespace-separated addresses. Everything from a '#'
// to the end of its line is ignored.
func ParseAllowlist(r io.Reader) (*Allowlist, error) {
	al := &Allowlist{addrs: make(map[string]struct{})}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, tok := range strings.Fields(line) {
			al.addrs[normalizeHost(tok)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return al, nil
}

// NewAllowlist builds an allowlist from literal addresses.
func NewAllowlist(addrs ...string) *Allowlist {
	al := &Allowlist{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		al.addrs[normalizeHost(a)] = struct{}{}
	}
	return al
}

// Allowed reports whether host is listed. A nil allowlist allows everyone.
func (a *Allowlist) Allowed(host string) bool {
	if a == nil {
		return true
	}
	_, ok := a.addrs[normalizeHost(host)]
	return ok
}

// Len returns the number of distinct entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.addrs)
}

// Addrs returns the entries in sorted order.
func (a *Allowlist) Addrs() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.addrs))
	for addr := range a.addrs {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// normalizeHost strips a port and brackets and canonicalises IP literals so
// "::ffff:10.0.0.1", "10.0.0.1" and "10.0.0.1:5000" compare equal.
func normalizeHost(s string) string {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}

// hostOf returns the normalized host part of a connection address.
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return normalizeHost(addr.String())
}
