package zot

import (
	"fmt"
	"strings"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

// Address is a channel address in nickname@host[:port] form
// Examples:
//   - admin@example.com
//   - admin@localhost:8080
type Address struct {
	Nickname string // admin
	Host     string // example.com or localhost:8080
}

// ParseAddress parses addr into its components. A bare nickname is taken
// to live on localHost.
func ParseAddress(addr, localHost string) (*Address, error) {
	addr = strings.TrimSpace(addr)
	nickname, host, found := strings.Cut(addr, "@")
	if !found {
		host = localHost
	}
	// Anything past a second @ is not part of the host.
	host, _, _ = strings.Cut(host, "@")

	a := &Address{Nickname: nickname, Host: host}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w %q: %v", zerrors.ErrInvalidAddress, addr, err)
	}
	return a, nil
}

// NormalizeAddress strips any path suffix from an advertised address and
// returns it together with the nickname part.
func NormalizeAddress(addr string) (address, nickname string) {
	address, _, _ = strings.Cut(addr, "/")
	nickname, _, _ = strings.Cut(address, "@")
	return address, nickname
}

// String returns the canonical nickname@host form
func (a *Address) String() string {
	if a == nil {
		return ""
	}
	return a.Nickname + "@" + a.Host
}

// IsLocal returns true if this address belongs to the given site host
func (a *Address) IsLocal(siteHost string) bool {
	if a == nil {
		return false
	}
	return strings.EqualFold(a.Host, siteHost)
}

// Validate checks if the address is usable for discovery
func (a *Address) Validate() error {
	if a == nil {
		return fmt.Errorf("address is nil")
	}
	if a.Nickname == "" {
		return fmt.Errorf("nickname cannot be empty")
	}
	if a.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if strings.ContainsAny(a.Nickname, "/ ") || strings.ContainsAny(a.Host, "/ ") {
		return fmt.Errorf("address cannot contain spaces or slashes")
	}
	return nil
}

