package aggregate

import (
	"strings"

	"github.com/clearslate/sweeper/internal/models"
)

// Signal weights, strongest first. The score is an additive sum over
// independent signals, so evaluation order never matters.
const (
	weightOnboarding    = 50
	weightVerification  = 30
	weightSecurity      = 25
	weightTransactional = 20
	weightBilling       = 15
	weightAccountMgmt   = 10
	weightSenderBonus   = 10

	volumeBonus20 = 30
	volumeBonus10 = 20
	volumeBonus5  = 10
	volumeBonus2  = 5
)

var signalGroups = []struct {
	weight  int
	phrases []string
}{
	{weightOnboarding, []string{
		"welcome to", "account created", "thanks for signing up",
		"get started", "your new account", "welcome aboard",
	}},
	{weightVerification, []string{
		"verify", "confirm your", "activate", "verification code",
	}},
	{weightSecurity, []string{
		"password", "security alert", "sign-in", "sign in",
		"two-factor", "suspicious",
	}},
	{weightTransactional, []string{
		"receipt", "your order", "order confirmation", "shipped",
	}},
	{weightBilling, []string{
		"invoice", "payment", "billing", "subscription",
	}},
	{weightAccountMgmt, []string{
		"your account", "account settings", "email preferences", "your profile",
	}},
}

var automatedLocalParts = []string{
	"noreply", "no-reply", "do-not-reply", "donotreply", "notifications",
	"notification", "auto", "mailer", "system",
}

var freemailDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "outlook.com": {},
	"hotmail.com": {}, "live.com": {}, "aol.com": {}, "icloud.com": {},
	"me.com": {}, "proton.me": {}, "protonmail.com": {}, "gmx.com": {},
	"mail.com": {}, "zoho.com": {},
}

// Subjects matching these mark the whole candidate as bulk mail, whatever
// its score.
var spamSubjectMarkers = []string{
	"unsubscribe", "newsletter", "digest", "% off", "flash sale",
	"deal of the", "limited time", "weekly roundup", "daily briefing",
	"special offer",
}

// Bulk-mail provider domains that never represent a user account.
var bulkMailDomains = map[string]struct{}{
	"mailchimp.com": {}, "list-manage.com": {}, "sendgrid.net": {},
	"amazonses.com": {}, "mailgun.org": {}, "mailgun.net": {},
	"sparkpostmail.com": {}, "constantcontact.com": {},
	"campaign-archive.com": {}, "substack.com": {}, "beehiiv.com": {},
}

// Score computes the confidence score for a domain aggregate. Pure and
// order-independent: permuting subjects or senders never changes the result.
func Score(agg models.DomainAggregate) int {
	score := 0

	for _, group := range signalGroups {
		if anySubjectContains(agg.Subjects, group.phrases) {
			score += group.weight
		}
	}

	if hasAutomatedSender(agg.Senders) || !isFreemail(agg.Domain) {
		score += weightSenderBonus
	}

	switch {
	case agg.EmailCount >= 20:
		score += volumeBonus20
	case agg.EmailCount >= 10:
		score += volumeBonus10
	case agg.EmailCount >= 5:
		score += volumeBonus5
	case agg.EmailCount >= 2:
		score += volumeBonus2
	}

	return score
}

// IsSpam reports whether a candidate is bulk mail and must be discarded
// regardless of score.
func IsSpam(agg models.DomainAggregate) bool {
	if _, bulk := bulkMailDomains[agg.Domain]; bulk {
		return true
	}
	return anySubjectContains(agg.Subjects, spamSubjectMarkers)
}

func anySubjectContains(subjects []string, phrases []string) bool {
	for _, subject := range subjects {
		lower := strings.ToLower(subject)
		for _, phrase := range phrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}
	return false
}

func hasAutomatedSender(senders []string) bool {
	for _, sender := range senders {
		at := strings.Index(sender, "@")
		if at < 0 {
			continue
		}
		local := strings.ToLower(sender[:at])
		for _, marker := range automatedLocalParts {
			if strings.Contains(local, marker) {
				return true
			}
		}
	}
	return false
}

func isFreemail(domain string) bool {
	_, ok := freemailDomains[domain]
	return ok
}
