package aggregate

import (
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Prefix labels that carry no brand signal. Stripped from the left while
// more than two labels remain.
var noisePrefixes = map[string]struct{}{
	"www": {}, "mail": {}, "email": {}, "e": {}, "em": {}, "mg": {},
	"noreply": {}, "no-reply": {}, "do-not-reply": {},
	"notification": {}, "notifications": {}, "notify": {},
	"alert": {}, "alerts": {}, "news": {}, "newsletter": {},
	"announce": {}, "announcements": {},
	"support": {}, "help": {}, "team": {}, "info": {}, "hello": {},
	"update": {}, "updates": {}, "account": {}, "accounts": {},
	"mailer": {}, "bounce": {}, "bounces": {}, "reply": {},
	"marketing": {}, "message": {}, "messages": {}, "smtp": {}, "mta": {},
}

// Exact-host aliases: a bulk-mail host that maps directly to its parent
// brand domain.
var exactAliases = map[string]string{
	"facebookmail.com": "facebook.com",
	"redditmail.com":   "reddit.com",
	"discordapp.com":   "discord.com",
	"dropboxmail.com":  "dropbox.com",
	"github.net":       "github.com",
}

// Suffix aliases: the host equals or is a subdomain of a known brand mail
// host. Checked after the exact table.
var suffixAliases = map[string]string{
	"facebookmail.com":  "facebook.com",
	"redditmail.com":    "reddit.com",
	"intercom-mail.com": "intercom.com",
}

var bareAddressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// SenderAddress extracts the sender address from a free-form From header.
// A bracketed address takes precedence over bare address-like substrings.
func SenderAddress(from string) (string, bool) {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address), true
	}
	if m := bareAddressPattern.FindString(from); m != "" {
		return strings.ToLower(m), true
	}
	return "", false
}

// SenderName extracts the display name from a From header, if any.
func SenderName(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.TrimSpace(addr.Name)
	}
	return ""
}

// CanonicalDomain normalizes a mail host to its brand domain. Deterministic
// and idempotent: a canonical domain maps to itself.
func CanonicalDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return ""
	}

	if brand, ok := exactAliases[host]; ok {
		return brand
	}
	for aliasHost, brand := range suffixAliases {
		if host == aliasHost || strings.HasSuffix(host, "."+aliasHost) {
			return brand
		}
	}

	labels := strings.Split(host, ".")
	for len(labels) > 2 {
		if _, noisy := noisePrefixes[labels[0]]; !noisy {
			break
		}
		labels = labels[1:]
	}
	stripped := strings.Join(labels, ".")

	// Registrable domain keeps three labels over a multi-part public suffix
	// (example.co.uk) and two otherwise.
	if registrable, err := publicsuffix.EffectiveTLDPlusOne(stripped); err == nil {
		return registrable
	}
	if len(labels) > 2 {
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return stripped
}

// CanonicalFromSender resolves a From header straight to (canonical domain,
// sender address).
func CanonicalFromSender(from string) (string, string, bool) {
	addr, ok := SenderAddress(from)
	if !ok {
		return "", "", false
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return "", "", false
	}
	domain := CanonicalDomain(addr[at+1:])
	if domain == "" {
		return "", "", false
	}
	return domain, addr, true
}
