package plaid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	plaidapi "github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"

	"github.com/subradar/subradar-backend/pkg/config"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const (
	dateLayout = "2006-01-02"
	pageSize   = int32(500)
)

var (
	errClientIDRequired = errors.New("plaid client id is required")
	errSecretRequired   = errors.New("plaid secret is required")
	errLoggerRequired   = errors.New("plaid logger is required")
)

// Transaction is the subset of a Plaid transaction the bank channel reads.
type Transaction struct {
	ID           string
	Name         string
	MerchantName string
	Amount       decimal.Decimal
	Currency     string
	Date         string
}

// Client wraps the Plaid SDK with centralized logging and error mapping.
type Client struct {
	api     *plaidapi.APIClient
	baseURL string
	logger  *logger.Logger
}

// NewClient validates credentials and binds the SDK to the configured environment.
func NewClient(ctx context.Context, cfg config.PlaidConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	return newClient(ctx, cfg, cfg.BaseURL(), httpClient, logg)
}

func newClient(ctx context.Context, cfg config.PlaidConfig, baseURL string, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	apiCfg := plaidapi.NewConfiguration()
	apiCfg.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	apiCfg.AddDefaultHeader("PLAID-SECRET", secret)
	apiCfg.UseEnvironment(plaidapi.Environment(baseURL))
	apiCfg.HTTPClient = httpClient

	c := &Client{
		api:     plaidapi.NewAPIClient(apiCfg),
		baseURL: baseURL,
		logger:  logg,
	}
	logg.Info(ctx, fmt.Sprintf("plaid client initialized (%s)", baseURL))
	return c, nil
}

// ListTransactions returns every transaction posted between from and to inclusive.
func (c *Client) ListTransactions(ctx context.Context, accessToken string, from, to time.Time) ([]Transaction, error) {
	var out []Transaction
	offset := int32(0)
	for {
		opts := plaidapi.NewTransactionsGetRequestOptions()
		opts.SetCount(pageSize)
		opts.SetOffset(offset)
		req := plaidapi.NewTransactionsGetRequest(accessToken, from.UTC().Format(dateLayout), to.UTC().Format(dateLayout))
		req.SetOptions(*opts)
		c.log(ctx, "request", "transactions_get", map[string]any{"access_token": accessToken, "offset": offset})

		resp, httpResp, err := c.api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*req).Execute()
		if err != nil {
			mapped := mapPlaidError(err, httpResp, "transactions_get")
			c.log(ctx, "error", "transactions_get", map[string]any{"error": mapped.Error()})
			return nil, mapped
		}
		page := resp.GetTransactions()
		for _, txn := range page {
			out = append(out, fromAPI(txn))
		}
		total := resp.GetTotalTransactions()
		c.log(ctx, "response", "transactions_get", map[string]any{"count": len(page), "total": total})

		offset += int32(len(page))
		if len(page) == 0 || offset >= total {
			return out, nil
		}
	}
}

func fromAPI(txn plaidapi.Transaction) Transaction {
	return Transaction{
		ID:           txn.GetTransactionId(),
		Name:         txn.GetName(),
		MerchantName: txn.GetMerchantName(),
		Amount:       decimal.NewFromFloat(txn.GetAmount()),
		Currency:     txn.GetIsoCurrencyCode(),
		Date:         txn.GetDate(),
	}
}

func mapPlaidError(err error, resp *http.Response, op string) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if status == 0 {
		return pkgerrors.Dependency(err, fmt.Sprintf("plaid %s failed", op)).
			WithDetails(map[string]any{"provider": "plaid", "retryable": true})
	}

	details := map[string]any{
		"provider":  "plaid",
		"status":    status,
		"retryable": retryableStatus(status),
	}
	msg := http.StatusText(status)
	if perr, decodeErr := plaidapi.ToPlaidError(err); decodeErr == nil {
		details["error_type"] = string(perr.GetErrorType())
		details["error_code"] = perr.GetErrorCode()
		details["request_id"] = perr.GetRequestId()
		if m := perr.GetErrorMessage(); m != "" {
			msg = m
		}
	}
	return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("plaid %s: %s", op, msg)).WithDetails(details)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("plaid %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("plaid %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "account", "email"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// PostedAt parses the transaction's posting date as UTC midnight.
func (t Transaction) PostedAt() (time.Time, bool) {
	ts, err := time.Parse(dateLayout, t.Date)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
