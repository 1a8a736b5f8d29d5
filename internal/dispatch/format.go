package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"routerctl/internal/adapter"
	"routerctl/internal/detect"
	"routerctl/internal/domain"
	"routerctl/internal/session"
)

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func formatTests(r detect.Result) string {
	var b strings.Builder
	b.WriteString("Tests:")
	for _, key := range r.Order {
		fmt.Fprintf(&b, "\n  %s: %v", key, r.Tests[key])
	}
	return b.String()
}

func formatConnections(infos []session.Info, now time.Time) string {
	if len(infos) == 0 {
		return "No active router connections."
	}
	lines := []string{fmt.Sprintf("Active connections (%d):", len(infos))}
	for _, info := range infos {
		lines = append(lines, fmt.Sprintf("%s | %s | connected %s",
			info.Address, info.Vendor, humanize.RelTime(info.ConnectedAt, now, "ago", "from now")))
	}
	return strings.Join(lines, "\n")
}

func formatDevices(title string, devices []domain.NetworkDevice) string {
	lines := []string{fmt.Sprintf("%s (%d):", title, len(devices)), strings.Repeat("-", 80)}
	for _, d := range devices {
		status := "Active"
		if !d.IsActive {
			status = "Reserved"
		}
		lines = append(lines, fmt.Sprintf("MAC: %s | IP: %s | Hostname: %s | Status: %s",
			d.MACAddress, d.IPAddress, orDefault(d.Hostname, "Unknown"), status))
	}
	return strings.Join(lines, "\n")
}

func formatPortForwards(rules []domain.PortForward) string {
	lines := []string{fmt.Sprintf("Port Forwarding Rules (%d):", len(rules)), strings.Repeat("-", 80)}
	for _, r := range rules {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		lines = append(lines, fmt.Sprintf("Name: %s | External: %d | Internal: %s:%d | Protocol: %s | %s",
			r.Name, r.ExternalPort, r.InternalIP, r.InternalPort, r.Protocol, state))
	}
	return strings.Join(lines, "\n")
}

// formatUptime renders an uptime the way people say it: "3 days"
func formatUptime(uptime time.Duration, now time.Time) string {
	if uptime <= 0 {
		return "Unknown"
	}
	return strings.TrimSpace(humanize.RelTime(now.Add(-uptime), now, "", ""))
}

func formatSystemInfo(address string, vendor adapter.Vendor, info domain.SystemInfo, now time.Time) string {
	lines := []string{
		fmt.Sprintf("System Info for %s (%s):", address, vendor),
		strings.Repeat("-", 40),
		"Model: " + orDefault(info.Model, "Unknown"),
		"Firmware: " + orDefault(info.Firmware, "Unknown"),
		"Uptime: " + formatUptime(info.Uptime, now),
		"WAN IP: " + orDefault(info.WANIP, "Unknown"),
	}
	return strings.Join(lines, "\n")
}
