package discovery

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const procRoute = "/proc/net/route"

// DefaultGateway returns the IPv4 gateway of the default route. It reads
// the Linux routing table and fails elsewhere.
func DefaultGateway() (string, error) {
	f, err := os.Open(procRoute)
	if err != nil {
		return "", errors.Wrap(err, "cannot read the routing table")
	}
	defer f.Close()
	return parseDefaultGateway(f)
}

// parseDefaultGateway finds the default route in /proc/net/route format
func parseDefaultGateway(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		// Little-endian hex
		gw := fields[2]
		if len(gw) != 8 {
			continue
		}
		var b1, b2, b3, b4 uint8
		if _, err := fmt.Sscanf(gw, "%02x%02x%02x%02x", &b4, &b3, &b2, &b1); err != nil {
			continue
		}
		if b1 == 0 && b2 == 0 && b3 == 0 && b4 == 0 {
			continue
		}
		return fmt.Sprintf("%d.%d.%d.%d", b1, b2, b3, b4), nil
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "cannot read the routing table")
	}
	return "", errors.New("no default route")
}

// LocalSubnet guesses the /24 of the primary local address. No packet is
// sent; the UDP dial only selects the outbound interface.
func LocalSubnet() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err != nil {
		return "", errors.Wrap(err, "cannot determine the local address")
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", errors.New("cannot determine the local address")
	}
	return subnetOf(addr.IP)
}

// subnetOf returns the /24 holding a private IPv4 address
func subnetOf(ip net.IP) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil || !ip4.IsPrivate() {
		return "", errors.Errorf("%s is not a private IPv4 address", ip)
	}
	return fmt.Sprintf("%d.%d.%d.0/24", ip4[0], ip4[1], ip4[2]), nil
}
