package adapter

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"routerctl/internal/domain"
)

var (
	csrfScriptRe = regexp.MustCompile(`csrfMagicToken\s*=\s*"([^"]+)"`)
	macRe        = regexp.MustCompile(`(?i)\b([0-9a-f]{2}(?::[0-9a-f]{2}){5})\b`)
	ipv4Re       = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3})\b`)
	uptimeUnitRe = regexp.MustCompile(`(?i)(\d+)\s*(day|hour|minute|second)s?`)
)

// walk calls visit for every element node below n in document order.
// Returning false from visit skips the element's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if n.Type == html.ElementNode && !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent returns the whitespace-collapsed text below n
func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// findCSRFToken returns the csrf-magic token of a pfSense page: the
// __csrf_magic hidden input, or else the csrfMagicToken script variable.
func findCSRFToken(doc *html.Node) string {
	var input, script string
	walk(doc, func(n *html.Node) bool {
		switch n.Data {
		case "input":
			if input == "" && attr(n, "name") == "__csrf_magic" {
				input = attr(n, "value")
			}
		case "script":
			if script == "" && n.FirstChild != nil {
				if m := csrfScriptRe.FindStringSubmatch(n.FirstChild.Data); m != nil {
					script = m[1]
				}
			}
		}
		return true
	})
	if input != "" {
		return input
	}
	return script
}

// tableRows returns the header cells and body rows of every table as
// text, one table at a time.
func tableRows(doc *html.Node, each func(header []string, rows [][]string)) {
	walk(doc, func(table *html.Node) bool {
		if table.Data != "table" {
			return true
		}
		var header []string
		var rows [][]string
		walk(table, func(tr *html.Node) bool {
			if tr.Data != "tr" {
				return true
			}
			var cells []string
			isHeader := false
			for c := tr.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				switch c.Data {
				case "th":
					isHeader = true
					cells = append(cells, textContent(c))
				case "td":
					cells = append(cells, textContent(c))
				}
			}
			if isHeader && header == nil && len(cells) > 1 {
				header = cells
			} else if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return false
		})
		each(header, rows)
		return false
	})
}

// columnIndex finds the first header containing any of the needles
func columnIndex(header []string, needles ...string) int {
	for i, h := range header {
		h = strings.ToLower(h)
		for _, n := range needles {
			if strings.Contains(h, n) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// parsePfSenseLeases reads the lease table of status_dhcp_leases.php.
// Columns are located by header text so that both the 2.4 and 2.7
// layouts parse.
func parsePfSenseLeases(doc *html.Node) []domain.NetworkDevice {
	var devices []domain.NetworkDevice
	tableRows(doc, func(header []string, rows [][]string) {
		macCol := columnIndex(header, "mac")
		if macCol < 0 {
			return
		}
		ipCol := columnIndex(header, "ip")
		hostCol := columnIndex(header, "hostname")
		onlineCol := columnIndex(header, "online", "status")
		typeCol := columnIndex(header, "lease type")

		for _, row := range rows {
			m := macRe.FindStringSubmatch(cell(row, macCol))
			if m == nil {
				continue
			}
			mac, err := domain.NormalizeMAC(m[1])
			if err != nil {
				continue
			}
			ip := ipv4Re.FindString(cell(row, ipCol))

			active := false
			switch {
			case onlineCol >= 0:
				status := strings.ToLower(cell(row, onlineCol))
				active = strings.Contains(status, "online") && !strings.Contains(status, "offline")
			case typeCol >= 0:
				active = strings.Contains(strings.ToLower(cell(row, typeCol)), "active")
			}
			devices = append(devices, domain.NetworkDevice{
				MACAddress: mac,
				IPAddress:  ip,
				Hostname:   cell(row, hostCol),
				IsActive:   active,
			})
		}
	})
	domain.SortDevices(devices)
	return devices
}

// parsePfSenseDashboard reads the System Information widget: rows of
// <th>label</th><td>value</td>.
func parsePfSenseDashboard(doc *html.Node) domain.SystemInfo {
	fields := map[string]string{}
	walk(doc, func(tr *html.Node) bool {
		if tr.Data != "tr" {
			return true
		}
		var label, value string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "th" && label == "" {
				label = strings.ToLower(textContent(c))
			} else if c.Data == "td" && value == "" {
				value = textContent(c)
			}
		}
		if label != "" && value != "" {
			if _, dup := fields[label]; !dup {
				fields[label] = value
			}
		}
		return false
	})

	info := domain.SystemInfo{Model: "pfSense"}
	if v := fields["system"]; v != "" {
		info.Model = v
	}
	if v := strings.Fields(fields["version"]); len(v) > 0 {
		info.Firmware = v[0]
	}
	info.Uptime = parseUptimeText(fields["uptime"])
	for label, value := range fields {
		if strings.HasPrefix(label, "wan") {
			info.WANIP = ipv4Re.FindString(value)
			break
		}
	}
	return info
}

// parseUptimeText parses "3 Days 04 Hours 05 Minutes 06 Seconds"
func parseUptimeText(s string) time.Duration {
	var d time.Duration
	for _, m := range uptimeUnitRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "day":
			d += time.Duration(n) * 24 * time.Hour
		case "hour":
			d += time.Duration(n) * time.Hour
		case "minute":
			d += time.Duration(n) * time.Minute
		case "second":
			d += time.Duration(n) * time.Second
		}
	}
	return d
}
