package ingestion

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subradar/subradar-backend/pkg/enums"
)

// Fact is one candidate subscription extracted from a single piece of evidence.
type Fact struct {
	ServiceName   string
	Tier          *string
	Amount        decimal.Decimal
	Currency      enums.Currency
	BillingCycle  enums.BillingCycle
	RenewalDate   *time.Time
	PaymentMethod *string
	Source        enums.SubscriptionSource
	ExternalID    *string
	// ObservedAt is when the evidence arrived; zero when the channel has no timestamp.
	ObservedAt time.Time
}

// Signal is a usage event to apply to every subscription whose normalized name contains one of Aliases.
type Signal struct {
	Kind    enums.SignalKind
	At      time.Time
	Aliases []string
}

// Evidence is everything a channel yields for one user.
type Evidence struct {
	Facts   []Fact
	Signals []Signal
	// Scanned counts raw items inspected, including those that yielded nothing.
	Scanned int
}

// MailMessage is the extractor's view of one mailbox message.
type MailMessage struct {
	ID   string
	From string
	Body string
	Date time.Time
}

// BankTransaction is the extractor's view of one posted transaction.
type BankTransaction struct {
	ID       string
	Merchant string
	Amount   decimal.Decimal
	Date     time.Time
}

// Receipt is an uploaded receipt image or its already-recognized text.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
	Text        string
}

// Request names the user and channel to ingest plus any channel payload.
type Request struct {
	UserID   uuid.UUID
	Channel  enums.SubscriptionSource
	Provider enums.CredentialProvider
	Receipt  *Receipt
}
