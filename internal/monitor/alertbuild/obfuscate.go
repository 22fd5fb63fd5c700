package alertbuild

import "regexp"

// ipv4Pattern matches dotted-quad IPv4 addresses closely enough for
// obfuscation purposes; it does not need to reject out-of-range octets,
// since the only consequence of a false positive is over-redaction.
var ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// ObfuscateIPs redacts IP-like substrings from a message before it is
// persisted on an alert (spec §7: "user-visible IP-like substrings
// inside error messages destined for alerts are obfuscated").
func ObfuscateIPs(msg string) string {
	return ipv4Pattern.ReplaceAllString(msg, "<redacted-ip>")
}
