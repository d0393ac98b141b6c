package ingestion

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subradar/subradar-backend/pkg/enums"
)

// ManualUploadName labels facts recognized from uploaded receipts.
const ManualUploadName = "Manual Upload"

var (
	serviceLabelRe = regexp.MustCompile(`(?i)(?:from|service|subscription)\s*:?\s*([A-Za-z\s]+?)(?:\s*\||\s*-|\s*\n|$)`)
	tierLabelRe    = regexp.MustCompile(`(?i)(?:plan|tier|subscription)\s*:?\s*([A-Za-z0-9\s]+?)(?:\s*\||\s*-|\s*\n|$)`)
	amountRe       = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)(\.\d{1,2})?`)
	cycleRe        = regexp.MustCompile(`(?i)\b(monthly|annual|annually|yearly|weekly|daily)\b`)
	renewalRe      = regexp.MustCompile(`(?i)(?:renewal|renews|next billing|expires?)\s*(?:on|date)?\s*:?\s*(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})`)
	fingerprintRe  = regexp.MustCompile(`(?i)(?:ending in|last 4(?: digits)?|card[^\n]*?\*{4})\s*:?\s*(\d{4})`)
	angleAddrRe    = regexp.MustCompile(`<([^>]+)>`)
)

// extractAmount finds the first dollar amount. It gates fact emission on every text channel.
func extractAmount(text string) (decimal.Decimal, bool) {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "") + m[2])
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

func extractServiceName(text string) (string, bool) {
	m := serviceLabelRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	name := strings.Join(strings.Fields(m[1]), " ")
	return name, name != ""
}

func extractTier(text string) *string {
	m := tierLabelRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	tier := strings.Join(strings.Fields(m[1]), " ")
	if tier == "" {
		return nil
	}
	return &tier
}

// extractCycle returns the first frequency keyword, monthly when none is present.
func extractCycle(text string) enums.BillingCycle {
	m := cycleRe.FindStringSubmatch(text)
	if m == nil {
		return enums.BillingCycleMonthly
	}
	switch strings.ToLower(m[1]) {
	case "annual", "annually", "yearly":
		return enums.BillingCycleYearly
	case "weekly":
		return enums.BillingCycleWeekly
	case "daily":
		return enums.BillingCycleDaily
	default:
		return enums.BillingCycleMonthly
	}
}

func extractRenewal(text string) *time.Time {
	m := renewalRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	layout := "2006-01-02"
	if strings.Contains(m[1], "/") {
		layout = "1/2/2006"
	}
	ts, err := time.Parse(layout, m[1])
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}

func extractFingerprint(text string) *string {
	m := fingerprintRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	fp := "****" + m[1]
	return &fp
}

// senderAddress reduces `Name <addr>` to addr.
func senderAddress(from string) string {
	if m := angleAddrRe.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(from)
}

func localPart(addr string) string {
	if i := strings.Index(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return addr
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(addr[i+1:])
	}
	return ""
}

// MailboxExtractor turns billing emails into facts.
type MailboxExtractor struct {
	SenderPatterns []string
	SenderDomains  []string
}

// Relevant reports whether the sender looks like a billing sender or an allowlisted provider.
func (e MailboxExtractor) Relevant(from string) bool {
	addr := strings.ToLower(senderAddress(from))
	if addr == "" {
		return false
	}
	for _, p := range e.SenderPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(addr, p) {
			return true
		}
	}
	domain := domainOf(addr)
	for _, d := range e.SenderDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && (domain == d || strings.HasSuffix(domain, "."+d)) {
			return true
		}
	}
	return false
}

// Extract returns a fact for msg, or false when the sender is irrelevant or no amount is present.
func (e MailboxExtractor) Extract(msg MailMessage) (Fact, bool) {
	if !e.Relevant(msg.From) {
		return Fact{}, false
	}
	amount, ok := extractAmount(msg.Body)
	if !ok {
		return Fact{}, false
	}

	addr := senderAddress(msg.From)
	name, ok := extractServiceName(msg.Body)
	if !ok {
		name = localPart(addr)
	}

	fact := Fact{
		ServiceName:   name,
		Tier:          extractTier(msg.Body),
		Amount:        amount,
		Currency:      enums.CurrencyUSD,
		BillingCycle:  extractCycle(msg.Body),
		RenewalDate:   extractRenewal(msg.Body),
		PaymentMethod: extractFingerprint(msg.Body),
		Source:        enums.SubscriptionSourceGmail,
		ObservedAt:    msg.Date.UTC(),
	}
	if msg.ID != "" {
		id := msg.ID
		fact.ExternalID = &id
	}
	return fact, true
}

// BankExtractor accepts transactions whose merchant contains a configured keyword.
type BankExtractor struct {
	Keywords []string
}

func (e BankExtractor) Extract(txn BankTransaction) (Fact, bool) {
	merchant := strings.TrimSpace(txn.Merchant)
	// Positive amounts are money leaving the account; refunds and credits are not charges.
	if merchant == "" || !txn.Amount.IsPositive() {
		return Fact{}, false
	}
	lower := strings.ToLower(merchant)
	matched := false
	for _, k := range e.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lower, k) {
			matched = true
			break
		}
	}
	if !matched {
		return Fact{}, false
	}

	fact := Fact{
		ServiceName:  merchant,
		Amount:       txn.Amount,
		Currency:     enums.CurrencyUSD,
		BillingCycle: enums.BillingCycleMonthly,
		Source:       enums.SubscriptionSourcePlaid,
		ObservedAt:   txn.Date.UTC(),
	}
	if txn.ID != "" {
		id := txn.ID
		fact.ExternalID = &id
	}
	return fact, true
}

// ExtractReceipt recognizes a fact from OCR text. Only the amount is read.
func ExtractReceipt(text string) (Fact, bool) {
	amount, ok := extractAmount(text)
	if !ok {
		return Fact{}, false
	}
	return Fact{
		ServiceName:  ManualUploadName,
		Amount:       amount,
		Currency:     enums.CurrencyUSD,
		BillingCycle: enums.BillingCycleMonthly,
		Source:       enums.SubscriptionSourceManualUpload,
	}, true
}

// providerAliases maps an API-usage provider onto subscription names it should touch.
var providerAliases = map[enums.CredentialProvider][]string{
	enums.CredentialProviderOpenAI:    {"openai", "chatgpt", "gpt"},
	enums.CredentialProviderAnthropic: {"anthropic", "claude"},
}

// UsageSignal builds the apiUse signal for provider's latest activity.
func UsageSignal(provider enums.CredentialProvider, at time.Time) (Signal, bool) {
	aliases, ok := providerAliases[provider]
	if !ok || at.IsZero() {
		return Signal{}, false
	}
	return Signal{Kind: enums.SignalKindAPIUse, At: at.UTC(), Aliases: aliases}, true
}
