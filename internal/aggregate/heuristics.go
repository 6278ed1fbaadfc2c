package aggregate

import (
	"strings"

	"github.com/clearslate/sweeper/internal/models"
)

var knownCategories = map[string]string{
	"spotify.com":   "music",
	"netflix.com":   "streaming",
	"hulu.com":      "streaming",
	"facebook.com":  "social",
	"instagram.com": "social",
	"twitter.com":   "social",
	"x.com":         "social",
	"reddit.com":    "social",
	"discord.com":   "social",
	"linkedin.com":  "professional",
	"github.com":    "developer",
	"gitlab.com":    "developer",
	"amazon.com":    "shopping",
	"ebay.com":      "shopping",
	"etsy.com":      "shopping",
	"paypal.com":    "finance",
	"stripe.com":    "finance",
	"coinbase.com":  "finance",
	"airbnb.com":    "travel",
	"booking.com":   "travel",
	"uber.com":      "transport",
	"lyft.com":      "transport",
	"dropbox.com":   "productivity",
	"notion.so":     "productivity",
	"slack.com":     "productivity",
	"zoom.us":       "productivity",
}

var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"bank", "finance"},
	{"pay", "finance"},
	{"invest", "finance"},
	{"shop", "shopping"},
	{"store", "shopping"},
	{"travel", "travel"},
	{"hotel", "travel"},
	{"game", "gaming"},
	{"learn", "education"},
	{"academy", "education"},
	{"health", "health"},
	{"fit", "health"},
}

// categorize derives a category from the canonical domain.
func categorize(domain string) string {
	if cat, ok := knownCategories[domain]; ok {
		return cat
	}
	for _, kw := range categoryKeywords {
		if strings.Contains(domain, kw.keyword) {
			return kw.category
		}
	}
	return "other"
}

// displayNameFor prefers the first observed sender display name, falling
// back to the capitalized first label of the domain.
func displayNameFor(agg models.DomainAggregate, firstSenderName string) string {
	if firstSenderName != "" {
		return firstSenderName
	}
	label := agg.Domain
	if dot := strings.Index(label, "."); dot > 0 {
		label = label[:dot]
	}
	if label == "" {
		return agg.Domain
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func logoURLFor(domain string) string {
	return "https://logo.clearbit.com/" + domain
}

var supportLocalParts = []string{"support", "privacy", "help", "contact", "feedback", "care"}

// contactFor picks a contact address for the service. An observed
// support-style alias wins with high confidence; any other observed address
// on the canonical domain is medium; otherwise support@domain is
// synthesized with low confidence.
func contactFor(agg models.DomainAggregate) (string, models.ContactConfidence) {
	for _, sender := range agg.Senders {
		at := strings.Index(sender, "@")
		if at < 0 {
			continue
		}
		local := strings.ToLower(sender[:at])
		for _, alias := range supportLocalParts {
			if local == alias || strings.HasPrefix(local, alias+"+") {
				return sender, models.ContactHigh
			}
		}
	}
	for _, sender := range agg.Senders {
		if strings.HasSuffix(sender, "@"+agg.Domain) {
			return sender, models.ContactMedium
		}
	}
	return "support@" + agg.Domain, models.ContactLow
}
