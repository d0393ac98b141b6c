package ingestion

import (
	"context"
	"time"

	"github.com/subradar/subradar-backend/internal/credentials"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/gmail"
	"github.com/subradar/subradar-backend/pkg/plaid"
	"github.com/subradar/subradar-backend/pkg/vision"
)

// EvidenceSource fetches one channel's raw data for a user and extracts it.
type EvidenceSource interface {
	Channel() enums.SubscriptionSource
	Collect(ctx context.Context, req Request) (Evidence, error)
}

type MailboxClient interface {
	ListCandidateMessages(ctx context.Context, token, query string, max int) ([]gmail.Message, error)
}

type BankClient interface {
	ListTransactions(ctx context.Context, accessToken string, from, to time.Time) ([]plaid.Transaction, error)
}

type UsageClient interface {
	LastActivity(ctx context.Context, provider enums.CredentialProvider, token string, since time.Time) (time.Time, bool, error)
}

type OCRClient interface {
	RecognizeText(ctx context.Context, img vision.Image) (string, error)
}

// ReceiptStore persists uploads so OCR can read them by URI.
type ReceiptStore interface {
	ObjectName(userID, filename string) string
	Upload(ctx context.Context, object, contentType string, data []byte) (string, error)
}

// MailboxSource reads billing emails through the user's mailbox credential.
type MailboxSource struct {
	Credentials credentials.Provider
	Client      MailboxClient
	Extractor   MailboxExtractor
	Query       string
	Max         int
}

func (s *MailboxSource) Channel() enums.SubscriptionSource { return enums.SubscriptionSourceGmail }

func (s *MailboxSource) Collect(ctx context.Context, req Request) (Evidence, error) {
	token, err := s.Credentials.GetToken(ctx, req.UserID, enums.CredentialProviderGmail)
	if err != nil {
		return Evidence{}, err
	}
	msgs, err := s.Client.ListCandidateMessages(ctx, token, s.Query, s.Max)
	if err != nil {
		return Evidence{}, err
	}

	ev := Evidence{Scanned: len(msgs)}
	for _, msg := range msgs {
		fact, ok := s.Extractor.Extract(MailMessage{ID: msg.ID, From: msg.From, Body: msg.Snippet, Date: msg.Date})
		if ok {
			ev.Facts = append(ev.Facts, fact)
		}
	}
	return ev, nil
}

// BankSource reads recent transactions through the user's Plaid item.
type BankSource struct {
	Credentials credentials.Provider
	Client      BankClient
	Extractor   BankExtractor
	Lookback    time.Duration
	Now         func() time.Time
}

func (s *BankSource) Channel() enums.SubscriptionSource { return enums.SubscriptionSourcePlaid }

func (s *BankSource) Collect(ctx context.Context, req Request) (Evidence, error) {
	token, err := s.Credentials.GetToken(ctx, req.UserID, enums.CredentialProviderPlaid)
	if err != nil {
		return Evidence{}, err
	}
	now := nowOrDefault(s.Now)
	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	txns, err := s.Client.ListTransactions(ctx, token, now.Add(-lookback), now)
	if err != nil {
		return Evidence{}, err
	}

	ev := Evidence{Scanned: len(txns)}
	for _, txn := range txns {
		merchant := txn.Name
		if merchant == "" {
			merchant = txn.MerchantName
		}
		posted, _ := txn.PostedAt()
		fact, ok := s.Extractor.Extract(BankTransaction{ID: txn.ID, Merchant: merchant, Amount: txn.Amount, Date: posted})
		if ok {
			ev.Facts = append(ev.Facts, fact)
		}
	}
	return ev, nil
}

// APIUsageSource turns provider usage into apiUse signals. It never yields facts.
type APIUsageSource struct {
	Credentials credentials.Provider
	Client      UsageClient
	Lookback    time.Duration
	Now         func() time.Time
}

func (s *APIUsageSource) Channel() enums.SubscriptionSource { return enums.SubscriptionSourceAPIUsage }

func (s *APIUsageSource) Collect(ctx context.Context, req Request) (Evidence, error) {
	if _, ok := providerAliases[req.Provider]; !ok {
		return Evidence{}, pkgerrors.New(pkgerrors.CodeValidation, "provider must be openai or anthropic")
	}
	token, err := s.Credentials.GetToken(ctx, req.UserID, req.Provider)
	if err != nil {
		return Evidence{}, err
	}
	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	at, ok, err := s.Client.LastActivity(ctx, req.Provider, token, nowOrDefault(s.Now).Add(-lookback))
	if err != nil {
		return Evidence{}, err
	}

	ev := Evidence{Scanned: 1}
	if sig, valid := UsageSignal(req.Provider, at); ok && valid {
		ev.Signals = append(ev.Signals, sig)
	}
	return ev, nil
}

// ReceiptSource recognizes uploaded receipts. Text already supplied skips OCR.
type ReceiptSource struct {
	OCR   OCRClient
	Store ReceiptStore
}

func (s *ReceiptSource) Channel() enums.SubscriptionSource {
	return enums.SubscriptionSourceManualUpload
}

func (s *ReceiptSource) Collect(ctx context.Context, req Request) (Evidence, error) {
	if req.Receipt == nil {
		return Evidence{}, pkgerrors.New(pkgerrors.CodeValidation, "receipt required")
	}
	text := req.Receipt.Text
	if text == "" {
		if len(req.Receipt.Data) == 0 {
			return Evidence{}, pkgerrors.New(pkgerrors.CodeValidation, "receipt file is empty")
		}
		if s.OCR == nil {
			return Evidence{}, pkgerrors.New(pkgerrors.CodeDependency, "ocr client not configured")
		}
		img := vision.Image{Content: req.Receipt.Data}
		if s.Store != nil {
			object := s.Store.ObjectName(req.UserID.String(), req.Receipt.Filename)
			uri, err := s.Store.Upload(ctx, object, req.Receipt.ContentType, req.Receipt.Data)
			if err != nil {
				return Evidence{}, pkgerrors.Dependency(err, "store receipt")
			}
			img = vision.Image{URI: uri}
		}
		recognized, err := s.OCR.RecognizeText(ctx, img)
		if err != nil {
			return Evidence{}, err
		}
		text = recognized
	}

	ev := Evidence{Scanned: 1}
	if fact, ok := ExtractReceipt(text); ok {
		ev.Facts = append(ev.Facts, fact)
	}
	return ev, nil
}

func nowOrDefault(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
