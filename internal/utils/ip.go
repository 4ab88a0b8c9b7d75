package utils

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
)

// AllowList is a set of CIDR blocks an address must fall into.
type AllowList []netip.Prefix

func ParseAllowList(cidrs []string) (AllowList, error) {
	list := make(AllowList, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		list = append(list, p.Masked())
	}
	return list, nil
}

// Contains reports whether ip is inside one of the blocks.
func (a AllowList) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RemoteIP returns the host part of the request's remote address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
