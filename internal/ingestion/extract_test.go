package ingestion

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subradar/subradar-backend/pkg/enums"
)

var mailbox = MailboxExtractor{
	SenderPatterns: []string{"billing@", "noreply@", "receipts@"},
	SenderDomains:  []string{"openai.com", "anthropic.com", "google.com", "microsoft.com", "aws.amazon.com"},
}

func TestMailboxRelevance(t *testing.T) {
	cases := map[string]bool{
		"billing@openai.com":             true,
		"OpenAI <noreply@tm.openai.com>": true,
		"team@anthropic.com":             true,
		"alerts@mail.google.com":         true,
		"friend@example.com":             false,
		"me@notopenai.com":               false,
		"":                               false,
	}
	for from, want := range cases {
		if got := mailbox.Relevant(from); got != want {
			t.Fatalf("Relevant(%q) = %v, want %v", from, got, want)
		}
	}
}

func TestMailboxEndToEndMessage(t *testing.T) {
	date := time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC)
	fact, ok := mailbox.Extract(MailMessage{
		ID:   "m1",
		From: "billing@openai.com",
		Body: "Your ChatGPT Plus subscription: $20.00 monthly, renews 2025-01-15",
		Date: date,
	})
	if !ok {
		t.Fatalf("expected a fact")
	}
	if fact.ServiceName != "billing" || !fact.Amount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected name/amount %q %s", fact.ServiceName, fact.Amount)
	}
	if fact.BillingCycle != enums.BillingCycleMonthly || fact.Source != enums.SubscriptionSourceGmail {
		t.Fatalf("unexpected cycle/source %s %s", fact.BillingCycle, fact.Source)
	}
	if fact.RenewalDate == nil || !fact.RenewalDate.Equal(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected renewal %v", fact.RenewalDate)
	}
	if !fact.ObservedAt.Equal(date) {
		t.Fatalf("unexpected observed at %v", fact.ObservedAt)
	}

	if _, ok := mailbox.Extract(MailMessage{From: "billing@openai.com", Body: "Your ChatGPT Plus subscription renews soon"}); ok {
		t.Fatalf("expected no fact without an amount")
	}
}

func TestMailboxFieldExtraction(t *testing.T) {
	fact, ok := mailbox.Extract(MailMessage{
		From: "Receipts <receipts@streamco.com>",
		Body: "Service: Netflix | Plan: Premium 4K - Total $1,299.5 annual. Next billing 03/04/2025. Card ending in 4242",
	})
	if !ok {
		t.Fatalf("expected a fact")
	}
	if fact.ServiceName != "Netflix" {
		t.Fatalf("unexpected service %q", fact.ServiceName)
	}
	if fact.Tier == nil || *fact.Tier != "Premium 4K" {
		t.Fatalf("unexpected tier %v", fact.Tier)
	}
	if fact.Amount.String() != "1299.5" || fact.BillingCycle != enums.BillingCycleYearly {
		t.Fatalf("unexpected amount/cycle %s %s", fact.Amount, fact.BillingCycle)
	}
	if fact.RenewalDate == nil || !fact.RenewalDate.Equal(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected renewal %v", fact.RenewalDate)
	}
	if fact.PaymentMethod == nil || *fact.PaymentMethod != "****4242" {
		t.Fatalf("unexpected payment method %v", fact.PaymentMethod)
	}
}

func TestMailboxNeverEmitsWithoutAmount(t *testing.T) {
	bodies := []string{
		"Service: Netflix | Plan: Premium",
		"renewal 2025-01-01 card ending in 1111 weekly",
		"USD 20.00 charged",
		"",
	}
	for _, body := range bodies {
		if _, ok := mailbox.Extract(MailMessage{From: "billing@x.com", Body: body}); ok {
			t.Fatalf("expected no fact for %q", body)
		}
	}
}

func TestCycleAlwaysInDomain(t *testing.T) {
	cases := map[string]enums.BillingCycle{
		"$5":                 enums.BillingCycleMonthly,
		"$5 Weekly":          enums.BillingCycleWeekly,
		"$5 billed DAILY":    enums.BillingCycleDaily,
		"$5 yearly plan":     enums.BillingCycleYearly,
		"$5 annually":        enums.BillingCycleYearly,
		"$5 monthly, yearly": enums.BillingCycleMonthly,
	}
	for body, want := range cases {
		fact, ok := mailbox.Extract(MailMessage{From: "billing@x.com", Body: body})
		if !ok {
			t.Fatalf("expected a fact for %q", body)
		}
		if fact.BillingCycle != want || !fact.BillingCycle.IsValid() {
			t.Fatalf("%q: expected %s, got %s", body, want, fact.BillingCycle)
		}
	}
}

func TestInvalidRenewalDegradesToNil(t *testing.T) {
	fact, ok := mailbox.Extract(MailMessage{From: "billing@x.com", Body: "$9.99 renewal 13/45/2025"})
	if !ok {
		t.Fatalf("expected a fact")
	}
	if fact.RenewalDate != nil {
		t.Fatalf("expected nil renewal, got %v", fact.RenewalDate)
	}
}

func TestBankExtractor(t *testing.T) {
	bank := BankExtractor{Keywords: []string{"ai"}}

	fact, ok := bank.Extract(BankTransaction{ID: "t1", Merchant: "OpenAI *ChatGPT", Amount: decimal.NewFromInt(20)})
	if !ok {
		t.Fatalf("expected a fact for a matching charge")
	}
	if fact.ServiceName != "OpenAI *ChatGPT" || fact.Amount.String() != "20" {
		t.Fatalf("unexpected fact %+v", fact)
	}
	if fact.BillingCycle != enums.BillingCycleMonthly || fact.Source != enums.SubscriptionSourcePlaid {
		t.Fatalf("unexpected cycle/source %s %s", fact.BillingCycle, fact.Source)
	}

	rejected := []BankTransaction{
		{ID: "refund", Merchant: "OpenAI *ChatGPT", Amount: decimal.NewFromInt(-20)},
		{ID: "zero", Merchant: "OpenAI *ChatGPT", Amount: decimal.Zero},
		{ID: "coffee", Merchant: "Starbucks", Amount: decimal.NewFromInt(5)},
	}
	for _, txn := range rejected {
		if _, ok := bank.Extract(txn); ok {
			t.Fatalf("expected %s to be rejected", txn.ID)
		}
	}
}

func TestExtractReceipt(t *testing.T) {
	fact, ok := ExtractReceipt("ACME CLOUD\nTOTAL $ 49.99\nThank you")
	if !ok {
		t.Fatalf("expected a receipt fact")
	}
	if fact.ServiceName != ManualUploadName || fact.Amount.String() != "49.99" || fact.Source != enums.SubscriptionSourceManualUpload {
		t.Fatalf("unexpected fact %+v", fact)
	}

	if _, ok := ExtractReceipt("no totals here"); ok {
		t.Fatalf("expected no fact without a total")
	}
}

func TestUsageSignal(t *testing.T) {
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	sig, ok := UsageSignal(enums.CredentialProviderAnthropic, at)
	if !ok {
		t.Fatalf("expected an anthropic signal")
	}
	if sig.Kind != enums.SignalKindAPIUse || !slices.Contains(sig.Aliases, "claude") {
		t.Fatalf("unexpected signal %+v", sig)
	}

	if _, ok := UsageSignal(enums.CredentialProviderGmail, at); ok {
		t.Fatalf("gmail should not yield a usage signal")
	}
	if _, ok := UsageSignal(enums.CredentialProviderOpenAI, time.Time{}); ok {
		t.Fatalf("zero time should not yield a usage signal")
	}
}
