package discovery

import (
	"context"
	"strconv"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// nmapAvailable checks if the nmap binary exists and runs
func nmapAvailable(ctx context.Context) bool {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets("localhost"),
		nmap.WithListScan(),
	)
	if err != nil {
		return false
	}

	_, _, err = scanner.Run()
	return err == nil
}

// nmapSweep port-scans target (an address or CIDR) with nmap
func nmapSweep(ctx context.Context, target string, ports []int) ([]Host, error) {
	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(target),
		nmap.WithPorts(portList(ports)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create nmap scanner")
	}

	log.WithFields(log.Fields{"target": target, "ports": ports}).Debug("Starting nmap sweep")
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, errors.Wrapf(err, "nmap scan of %s failed", target)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.WithField("target", target).Warnf("nmap warnings: %v", *warnings)
	}
	return hostsFromRun(result), nil
}

// hostsFromRun keeps the up hosts of an nmap run that have an open port
func hostsFromRun(result *nmap.Run) []Host {
	if result == nil {
		return nil
	}

	var hosts []Host
	for _, h := range result.Hosts {
		if len(h.Addresses) == 0 || h.Status.State != "up" {
			continue
		}

		var host Host
		for _, addr := range h.Addresses {
			switch addr.AddrType {
			case "ipv4":
				if host.IP == "" {
					host.IP = addr.Addr
				}
			case "mac":
				host.MACAddress = strings.ToLower(addr.Addr)
			}
		}
		if host.IP == "" {
			host.IP = h.Addresses[0].Addr
		}
		if len(h.Hostnames) > 0 {
			host.Hostname = h.Hostnames[0].Name
		}
		for _, p := range h.Ports {
			if p.State.State == "open" {
				host.OpenPorts = append(host.OpenPorts, int(p.ID))
			}
		}
		if len(host.OpenPorts) > 0 {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func portList(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
