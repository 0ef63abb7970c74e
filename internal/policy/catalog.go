// ABOUTME: Known-tool catalog grouped by category for reporting.
// ABOUTME: Category membership is descriptive and never affects permission.

package policy

import (
	"slices"
	"strings"
)

// UnknownCategory is returned by CategoryOf for tools outside the catalog.
const UnknownCategory = "unknown"

var catalog = map[string][]string{
	"network_recon": {
		"nmap", "rustscan", "masscan", "naabu", "dnsrecon", "dnsenum",
		"amass", "subfinder", "httpx", "whois", "dig", "nslookup",
		"fping", "arp-scan", "netdiscover", "dnsx", "massdns",
	},
	"web_scanning": {
		"nikto", "sqlmap", "gobuster", "ffuf", "nuclei", "whatweb",
		"wpscan", "curl", "wget", "dirb", "wfuzz", "wafw00f",
	},
	"vuln_scanning": {
		"trivy", "grype", "semgrep", "lynis", "openscap", "snyk",
	},
	"exploitation": {
		"metasploit", "msfvenom", "searchsploit", "hashcat", "john",
		"hydra", "medusa", "ncrack",
	},
	"cloud_security": {
		"aws-cli", "pacu", "prowler", "az", "gcloud", "checkov",
	},
	"container": {
		"docker", "kubectl", "kube-bench", "kube-hunter", "trivy",
	},
	"osint": {
		"recon-ng", "theharvester", "shodan", "censys", "maltego",
	},
	"system_info": {
		"uname", "whoami", "hostname", "ifconfig", "ip", "netstat", "ps",
		"top", "lsof", "id", "cat", "ls", "find", "grep",
	},
	"database": {
		"sqlite3", "mysql", "psql", "mongosh", "redis-cli",
	},
	"forensics": {
		"volatility", "binwalk", "strings", "file", "exiftool",
	},
	"wireless": {
		"aircrack-ng", "wireshark", "tcpdump", "kismet",
	},
	"api_security": {
		"postman", "burpsuite", "zaproxy", "owasp-zap",
	},
}

// known indexes every catalog tool to the first category (alphabetically) listing it.
var known = buildIndex()

func buildIndex() map[string]string {
	idx := make(map[string]string)
	for _, category := range Categories() {
		for _, tool := range catalog[category] {
			if _, exists := idx[tool]; !exists {
				idx[tool] = category
			}
		}
	}
	return idx
}

// Categories returns the catalog categories in sorted order.
func Categories() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ToolsIn returns a copy of the tools listed under category, or nil.
func ToolsIn(category string) []string {
	return slices.Clone(catalog[category])
}

// CategoryOf returns the category a tool belongs to, or UnknownCategory.
func CategoryOf(tool string) string {
	if category, ok := known[normalize(tool)]; ok {
		return category
	}
	return UnknownCategory
}

// Known reports whether tool appears anywhere in the catalog.
func Known(tool string) bool {
	_, ok := known[normalize(tool)]
	return ok
}

func normalize(tool string) string {
	return strings.ToLower(strings.TrimSpace(tool))
}
