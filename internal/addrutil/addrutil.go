// Package addrutil holds small address-shaping helpers shared by the agent
// and the panel.
package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// Advertise builds the API address a node publishes at registration:
// the advertise host joined with the listen port. advertise may carry its own
// port, which wins.
func Advertise(advertise, listen string) string {
	host := Host(advertise)
	if host == "" {
		return ""
	}
	if _, port, err := net.SplitHostPort(strings.TrimSpace(advertise)); err == nil && port != "" {
		return net.JoinHostPort(host, port)
	}

	_, port, err := net.SplitHostPort(listen)
	if err != nil || port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

// Host extracts the host part of an address that may or may not carry a
// port. Unbracketed IPv6 is handled by peeling a trailing numeric ":port".
func Host(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				return a[:last]
			}
		}
	}

	if strings.Contains(a, ":") {
		return strings.Trim(a, "[]")
	}
	return a
}
