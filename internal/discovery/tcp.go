package discovery

import (
	"context"
	"encoding/binary"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// maxSweepHosts caps the TCP fallback sweep
const maxSweepHosts = 1024

// expandCIDR converts a CIDR notation or single address to a list of IPs.
// Network and broadcast addresses are skipped for /24 and larger.
func expandCIDR(cidr string) ([]string, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		if ip := net.ParseIP(cidr); ip != nil && ip.To4() != nil {
			return []string{ip.String()}, nil
		}
		return nil, errors.Wrapf(err, "invalid CIDR %s", cidr)
	}

	ip := ipNet.IP.To4()
	if ip == nil {
		return nil, errors.Errorf("only IPv4 supported: %s", cidr)
	}

	mask := ipNet.Mask
	networkInt := binary.BigEndian.Uint32(ip)
	maskInt := binary.BigEndian.Uint32(mask)

	firstIP := networkInt & maskInt
	lastIP := firstIP | ^maskInt

	ones, bits := mask.Size()
	if ones <= 24 && bits == 32 {
		firstIP++
		lastIP--
	}

	if lastIP-firstIP >= maxSweepHosts {
		return nil, errors.Errorf("CIDR range too large (max %d IPs): %s", maxSweepHosts, cidr)
	}

	// uint64 so the loop ends at 255.255.255.255
	ips := make([]string, 0, lastIP-firstIP+1)
	for i := uint64(firstIP); i <= uint64(lastIP); i++ {
		ipBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(ipBytes, uint32(i))
		ips = append(ips, net.IP(ipBytes).String())
	}
	return ips, nil
}

// probePort attempts to connect to a TCP port
func probePort(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// tcpSweep finds hosts with any of ports open using a bounded worker pool
func tcpSweep(ctx context.Context, ips []string, ports []int, timeout time.Duration, workers int) []Host {
	open := make(map[string][]int)
	var mu sync.Mutex

	type probeJob struct {
		ip   string
		port int
	}
	jobs := make(chan probeJob, len(ips)*len(ports))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if probePort(ctx, job.ip, job.port, timeout) {
					mu.Lock()
					open[job.ip] = append(open[job.ip], job.port)
					mu.Unlock()
				}
			}
		}()
	}

	for _, ip := range ips {
		for _, port := range ports {
			jobs <- probeJob{ip: ip, port: port}
		}
	}
	close(jobs)
	wg.Wait()

	hosts := make([]Host, 0, len(open))
	for ip, ports := range open {
		sort.Ints(ports)
		hosts = append(hosts, Host{IP: ip, OpenPorts: ports})
	}
	return hosts
}
