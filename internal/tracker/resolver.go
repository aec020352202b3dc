package tracker

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// ResolveHost resolves the host part of hostport to an IPv4 address.
func ResolveHost(ctx context.Context, hostport string) (net.IP, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, err
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, port, nil
		}
		return nil, 0, errors.New("ipv6 is not supported")
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			return ip4, port, nil
		}
	}
	return nil, 0, errors.New("no ipv4 address for host")
}
