// ABOUTME: Parsing of LLM replies into queued commands and reported findings.
// ABOUTME: Accepts the JSON plan format, fenced JSON, or loose RUN/FINDING lines.

package mission

import (
	"bufio"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/2389/coven-swarm/internal/store"
)

// maxLooseCommands caps commands recovered from free text.
const maxLooseCommands = 10

const (
	runPrefix     = "RUN "
	endMarker     = "<END!>"
	findingPrefix = "FINDING:"
)

var runPattern = regexp.MustCompile(`RUN\s+([^\n"]+)`)

// ReportedFinding is a finding extracted from an LLM reply.
type ReportedFinding struct {
	Severity string `json:"severity"`
	Content  string `json:"content"`
}

// stripFence removes a surrounding markdown code fence.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseCommands extracts commands, without their RUN prefix, in queue order.
// done reports that the reply signalled the end of the assessment.
func ParseCommands(text string) (commands []string, done bool) {
	done = strings.Contains(text, endMarker)

	var doc map[string]any
	if err := json.Unmarshal([]byte(stripFence(text)), &doc); err == nil {
		if status, _ := doc["status"].(string); strings.EqualFold(status, "END") {
			return nil, true
		}
		if cmds := numberedCommands(doc); len(cmds) > 0 {
			return cmds, done
		}
		var batched []string
		for _, name := range []string{"batch_1", "batch_2", "batch_3"} {
			if batch, ok := doc[name].(map[string]any); ok {
				batched = append(batched, numberedCommands(batch)...)
			}
		}
		if len(batched) > 0 {
			return batched, done
		}
	}

	for _, m := range runPattern.FindAllStringSubmatch(text, maxLooseCommands) {
		if cmd := strings.TrimSpace(m[1]); cmd != "" {
			commands = append(commands, cmd)
		}
	}
	return commands, done
}

// numberedCommands returns RUN values under numeric keys, ordered by key.
func numberedCommands(doc map[string]any) []string {
	type entry struct {
		n   int
		cmd string
	}
	var entries []entry
	for k, v := range doc {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, runPrefix) {
			continue
		}
		n, err := strconv.Atoi(k)
		if err != nil {
			// Non-numeric keys, such as agent names in batches, sort last.
			n = 1 << 30
		}
		entries = append(entries, entry{n: n, cmd: strings.TrimSpace(strings.TrimPrefix(s, runPrefix))})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].n != entries[j].n {
			return entries[i].n < entries[j].n
		}
		return entries[i].cmd < entries[j].cmd
	})

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.cmd != "" {
			out = append(out, e.cmd)
		}
	}
	return out
}

// ParseFindings extracts findings from a JSON "findings" array or from
// "FINDING:" lines. Missing or unknown severities are classified from content.
func ParseFindings(text string) []ReportedFinding {
	var doc struct {
		Findings []ReportedFinding `json:"findings"`
	}
	var raw []ReportedFinding
	if err := json.Unmarshal([]byte(stripFence(text)), &doc); err == nil {
		raw = doc.Findings
	} else {
		sc := bufio.NewScanner(strings.NewReader(text))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if rest, ok := strings.CutPrefix(line, findingPrefix); ok {
				raw = append(raw, ReportedFinding{Content: rest})
			}
		}
	}

	out := make([]ReportedFinding, 0, len(raw))
	for _, f := range raw {
		f.Content = strings.TrimSpace(f.Content)
		if f.Content == "" {
			continue
		}
		f.Severity = normalizeSeverity(f.Severity)
		if f.Severity == "" {
			f.Severity = ClassifySeverity(f.Content)
		}
		out = append(out, f)
	}
	return out
}

func normalizeSeverity(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	if store.ValidSeverity(s) {
		return s
	}
	return ""
}

var severityKeywords = []struct {
	severity string
	keywords []string
}{
	{store.SeverityCritical, []string{"critical", "remote code execution", "rce", "sql injection", "authentication bypass"}},
	{store.SeverityHigh, []string{"high", "vulnerability", "exploit", "exposed", "sensitive"}},
	{store.SeverityMedium, []string{"medium", "misconfiguration", "weak", "outdated"}},
	{store.SeverityLow, []string{"low", "information disclosure", "warning"}},
}

// ClassifySeverity maps finding text to a severity by keyword, defaulting to Info.
func ClassifySeverity(content string) string {
	lower := strings.ToLower(content)
	for _, level := range severityKeywords {
		for _, kw := range level.keywords {
			if strings.Contains(lower, kw) {
				return level.severity
			}
		}
	}
	return store.SeverityInfo
}
