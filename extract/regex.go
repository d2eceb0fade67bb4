package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// DefaultTools are the tool names the Regex extractor recognizes.
var DefaultTools = []string{
	"aircrack-ng",
	"bloodhound",
	"burp suite",
	"cobalt strike",
	"gobuster",
	"hashcat",
	"hydra",
	"impacket",
	"john the ripper",
	"metasploit",
	"mimikatz",
	"netcat",
	"nikto",
	"nmap",
	"responder",
	"sqlmap",
	"wireshark",
}

var (
	ipv4Pattern      = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	cvePattern       = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)
	techniquePattern = regexp.MustCompile(`\bT\d{4}(?:\.\d{3})?\b`)
	domainPattern    = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}\b`)
	phrasePattern    = regexp.MustCompile(`"([^"\n]{2,})"`)
)

// fileExtensions are suffixes that make a dotted word a file name rather
// than a domain.
var fileExtensions = map[string]struct{}{
	"bin": {}, "conf": {}, "dll": {}, "exe": {}, "json": {}, "log": {},
	"ps1": {}, "py": {}, "sh": {}, "txt": {}, "xml": {}, "yaml": {}, "zip": {},
}

// Regex extracts IPv4 addresses, CVE ids, ATT&CK technique ids, domains,
// known tool names and double-quoted phrases.
type Regex struct {
	tools *regexp.Regexp
}

var _ Extractor = (*Regex)(nil)

// NewRegex creates a Regex extractor recognizing the given tool names, or
// DefaultTools when none are given. Tool names match case-insensitively on
// word boundaries.
func NewRegex(tools ...string) *Regex {
	if len(tools) == 0 {
		tools = DefaultTools
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t = strings.TrimSpace(t); t != "" {
			names = append(names, regexp.QuoteMeta(strings.ToLower(t)))
		}
	}
	// Longest first so "john the ripper" wins over a shorter prefix.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	r := &Regex{}
	if len(names) > 0 {
		r.tools = regexp.MustCompile(`(?i)\b(?:` + strings.Join(names, "|") + `)\b`)
	}
	return r
}

// Extract returns entities ordered by position with duplicates removed.
func (r *Regex) Extract(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entity
	add := func(typ string, re *regexp.Regexp, normalize func(string) string) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			v := text[loc[0]:loc[1]]
			if normalize != nil {
				v = normalize(v)
			}
			out = append(out, Entity{Type: typ, Value: v, Position: loc[0]})
		}
	}

	add(TypeIPAddress, ipv4Pattern, nil)
	add(TypeCVE, cvePattern, strings.ToUpper)
	add(TypeTechniqueID, techniquePattern, nil)
	for _, loc := range domainPattern.FindAllStringIndex(text, -1) {
		v := strings.ToLower(text[loc[0]:loc[1]])
		if _, isFile := fileExtensions[v[strings.LastIndexByte(v, '.')+1:]]; isFile {
			continue
		}
		out = append(out, Entity{Type: TypeDomain, Value: v, Position: loc[0]})
	}
	if r.tools != nil {
		add(TypeTool, r.tools, strings.ToLower)
	}
	for _, m := range phrasePattern.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, Entity{Type: TypePhrase, Value: text[m[2]:m[3]], Position: m[2]})
	}

	if out == nil {
		return []Entity{}, nil
	}
	return sortAndDedupe(out), nil
}
