// Package netutil turns target specifications into concrete scan targets.
//
// It covers:
//   - Expanding IPs, hostnames, CIDR blocks, and dashed ranges into a flat
//     list of unique IP addresses.
//   - Dropping addresses that are never useful scan targets (multicast,
//     unspecified, link-local). Loopback stays in; the discovery layer
//     decides on it.
//   - Parsing comma-separated port lists with ranges into sorted unique
//     port numbers.
package netutil

import (
	"bytes"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Expansion stops at these counts so a stray /0 or huge range cannot eat
// all memory. The scan itself has no such limit.
const (
	maxCIDRTargets  = 1 << 20
	maxRangeTargets = 1 << 18
)

// targetSet accumulates expanded addresses, keeping first-seen order and
// dropping duplicates.
type targetSet struct {
	ips  []string
	seen map[string]struct{}
}

func newTargetSet() *targetSet {
	return &targetSet{seen: make(map[string]struct{})}
}

func (s *targetSet) add(ip string) {
	if _, found := s.seen[ip]; found {
		return
	}
	s.ips = append(s.ips, ip)
	s.seen[ip] = struct{}{}
}

// ParseAndExpandTargets expands a list of target strings (IPs, hostnames,
// CIDR notations, or IP ranges) into a flat list of unique IP address
// strings. Entries that cannot be parsed or resolved are logged and
// skipped rather than failing the whole list.
func ParseAndExpandTargets(targets []string) []string {
	set := newTargetSet()
	for _, t := range targets {
		target := strings.TrimSpace(t)
		if target == "" {
			continue
		}
		switch {
		case strings.Contains(target, "/"):
			expandCIDR(target, set)
		case strings.Contains(target, "-"):
			expandRange(target, set)
		default:
			lookupAndAdd(target, set)
		}
	}
	return filterNonScanable(set.ips)
}

func expandCIDR(target string, set *targetSet) {
	ipAddr, ipNet, err := net.ParseCIDR(target)
	if err != nil {
		log.Warn().Str("target", target).Err(err).Msg("Skipping unparsable CIDR target")
		return
	}

	network, broadcast := ipv4SubnetBounds(ipNet)
	count := 0
	for current := ipAddr.Mask(ipNet.Mask); ipNet.Contains(current); incIP(current) {
		if count >= maxCIDRTargets {
			log.Warn().Str("target", target).Int("limit", maxCIDRTargets).Msg("CIDR expansion stopped at limit")
			return
		}
		count++

		ip := make(net.IP, len(current))
		copy(ip, current)
		if ip.Equal(network) || ip.Equal(broadcast) {
			continue
		}
		set.add(ip.String())
	}
}

// ipv4SubnetBounds returns the network and broadcast addresses for IPv4
// subnets that have them. /31 and /32 use every address, and IPv6 has no
// broadcast, so those return nil.
func ipv4SubnetBounds(ipNet *net.IPNet) (network, broadcast net.IP) {
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return nil, nil
	}
	ones, bits := ipNet.Mask.Size()
	if bits != 32 || ones == 0 || ones >= 31 {
		return nil, nil
	}
	broadcast = make(net.IP, net.IPv4len)
	for i := range net.IPv4len {
		broadcast[i] = ip4[i] | ^ipNet.Mask[i]
	}
	return ip4, broadcast
}

func expandRange(target string, set *targetSet) {
	parts := strings.SplitN(target, "-", 2)
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	start := net.ParseIP(startStr)
	if start == nil {
		// Hostnames may contain dashes, so a failed range parse falls
		// back to a lookup of the whole string.
		lookupAndAdd(target, set)
		return
	}

	if start4 := start.To4(); start4 != nil {
		if octet, err := strconv.Atoi(endStr); err == nil {
			expandLastOctetRange(target, start4, octet, set)
			return
		}
	}

	end := net.ParseIP(endStr)
	if end == nil {
		log.Warn().Str("target", target).Msg("Skipping range with invalid end address")
		return
	}

	start4, end4 := start.To4(), end.To4()
	if (start4 == nil) != (end4 == nil) {
		log.Warn().Str("target", target).Msg("Skipping range with mismatched IP versions")
		return
	}
	if start4 != nil {
		start, end = start4, end4
	}
	if bytes.Compare(start, end) > 0 {
		log.Warn().Str("target", target).Msg("Skipping range whose start is after its end")
		return
	}

	count := 0
	current := make(net.IP, len(start))
	copy(current, start)
	for {
		if count >= maxRangeTargets {
			log.Warn().Str("target", target).Int("limit", maxRangeTargets).Msg("Range expansion stopped at limit")
			return
		}
		count++

		set.add(current.String())
		if current.Equal(end) {
			return
		}
		incIP(current)
	}
}

// expandLastOctetRange handles the shorthand "192.168.1.10-20".
func expandLastOctetRange(target string, start4 net.IP, endOctet int, set *targetSet) {
	if endOctet < 0 || endOctet > 255 || int(start4[3]) > endOctet {
		log.Warn().Str("target", target).Msg("Skipping invalid last-octet range")
		return
	}
	base := fmt.Sprintf("%d.%d.%d", start4[0], start4[1], start4[2])
	for i := int(start4[3]); i <= endOctet; i++ {
		set.add(fmt.Sprintf("%s.%d", base, i))
	}
}

// lookupAndAdd parses the target as a literal IP first and falls back to
// a hostname lookup.
func lookupAndAdd(target string, set *targetSet) {
	if ip := net.ParseIP(target); ip != nil {
		set.add(ip.String())
		return
	}

	addrs, err := net.LookupHost(target)
	if err != nil {
		log.Warn().Str("target", target).Err(err).Msg("Could not parse or resolve target. Skipping.")
		return
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			set.add(ip.String())
		}
	}
}

// filterNonScanable drops addresses that are never useful scan targets.
func filterNonScanable(ips []string) []string {
	result := make([]string, 0, len(ips))
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil ||
			ip.IsMulticast() ||
			ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() {
			continue
		}
		result = append(result, ipStr)
	}
	return result
}

// incIP increments an IP address in place. Works for IPv4 and IPv6.
func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}

// ParsePortString parses a comma-separated string of ports and port
// ranges into a sorted slice of unique port numbers.
// Example: "21,2121-2123" -> [21, 2121, 2122, 2123].
func ParsePortString(portStr string) ([]int, error) {
	if strings.TrimSpace(portStr) == "" {
		return []int{}, nil
	}

	seen := make(map[int]struct{})
	var ports []int
	for part := range strings.SplitSeq(portStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end, err := parsePortPart(part)
		if err != nil {
			return nil, err
		}
		for p := start; p <= end; p++ {
			if _, found := seen[p]; !found {
				ports = append(ports, p)
				seen[p] = struct{}{}
			}
		}
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePortPart(part string) (start, end int, err error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.SplitN(part, "-", 2)
		start, err = strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid start port in range %q: %w", part, err)
		}
		end, err = strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid end port in range %q: %w", part, err)
		}
		if start < 1 || start > 65535 || end < 1 || end > 65535 {
			return 0, 0, fmt.Errorf("ports in range %q must be between 1 and 65535", part)
		}
		if start > end {
			return 0, 0, fmt.Errorf("start port %d is greater than end port %d in range %q", start, end, part)
		}
		return start, end, nil
	}

	port, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port number %q: %w", part, err)
	}
	if port < 1 || port > 65535 {
		return 0, 0, fmt.Errorf("port number %d must be between 1 and 65535", port)
	}
	return port, port, nil
}
