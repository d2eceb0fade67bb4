package cag

// DefaultConcepts returns the entity-type to domain-concept table used when
// an extracted entity matches no node directly. Concept names are looked up
// through the seed properties like any entity value.
func DefaultConcepts() map[string][]string {
	return map[string][]string{
		"ip_address":   {"Network Reconnaissance", "Lateral Movement"},
		"cve":          {"Vulnerability", "Exploitation"},
		"technique_id": {"Attack Technique"},
		"domain":       {"Command and Control", "Phishing"},
		"tool":         {"Security Tool"},
		"phrase":       {},
	}
}
