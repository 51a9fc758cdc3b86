package discovery

import (
	"net"
	"strings"
)

var (
	skippedPrefixes   = []string{"br-", "veth", "docker", "virbr", "utun"}
	preferredPrefixes = []string{"wl", "eth", "en", "wlan", "wifi"}
)

// LocalIPv4 returns the private IPv4 address other devices on the LAN are
// most likely to reach us on, preferring wired and wireless interfaces.
func LocalIPv4() string {
	ips := LocalIPv4s()
	if len(ips) == 0 {
		return ""
	}
	return ips[0]
}

// LocalIPv4s lists private IPv4 addresses, preferred interfaces first.
func LocalIPv4s() []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var preferred, others []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if hasAnyPrefix(iface.Name, skippedPrefixes) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			ipv4 := ipnet.IP.To4()
			if ipv4 == nil || !isLocalNetworkIP(ipv4) {
				continue
			}
			if hasAnyPrefix(iface.Name, preferredPrefixes) {
				preferred = append(preferred, ipv4.String())
			} else {
				others = append(others, ipv4.String())
			}
		}
	}
	return append(preferred, others...)
}

func isLocalNetworkIP(ip net.IP) bool {
	return ip.IsPrivate()
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
