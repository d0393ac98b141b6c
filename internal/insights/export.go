package insights

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pkgbigquery "github.com/subradar/subradar-backend/pkg/bigquery"
	"github.com/subradar/subradar-backend/pkg/db/models"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Exporter ships created insights to an analytics sink.
type Exporter interface {
	Export(ctx context.Context, insights []models.Insight) error
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

// InsightRow is the BigQuery shape of one insight event.
type InsightRow struct {
	InsightID      string               `bigquery:"insight_id"`
	UserID         string               `bigquery:"user_id"`
	SubscriptionID cbigquery.NullString `bigquery:"subscription_id"`
	Type           string               `bigquery:"type"`
	Message        string               `bigquery:"message"`
	CreatedAt      time.Time            `bigquery:"created_at"`
}

// InsightTable describes the BigQuery table insight rows are written to.
func InsightTable(name string) (pkgbigquery.TableDef, error) {
	schema, err := cbigquery.InferSchema(InsightRow{})
	if err != nil {
		return pkgbigquery.TableDef{}, fmt.Errorf("inferring insight schema: %w", err)
	}
	return pkgbigquery.TableDef{Name: name, Schema: schema, PartitionField: "created_at"}, nil
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryExporter streams insight rows into a BigQuery table with retries.
type BigQueryExporter struct {
	client tableInserter
	table  string
	retry  RetryPolicy
}

// NewBigQueryExporter builds an exporter backed by a shared client.
func NewBigQueryExporter(client *pkgbigquery.Client, table string, retry RetryPolicy) (*BigQueryExporter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("insights table is required")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}
	return &BigQueryExporter{client: client, table: table, retry: retry}, nil
}

func (e *BigQueryExporter) Export(ctx context.Context, insights []models.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	rows := make([]any, len(insights))
	for i := range insights {
		rows[i] = toRow(insights[i])
	}
	return e.insertWithRetry(ctx, rows)
}

func toRow(insight models.Insight) *InsightRow {
	row := &InsightRow{
		InsightID: insight.ID.String(),
		UserID:    insight.UserID.String(),
		Type:      string(insight.Type),
		Message:   insight.Message,
		CreatedAt: insight.CreatedAt.UTC(),
	}
	if insight.SubscriptionID != nil {
		row.SubscriptionID = cbigquery.NullString{StringVal: insight.SubscriptionID.String(), Valid: true}
	}
	return row
}

func (e *BigQueryExporter) insertWithRetry(ctx context.Context, rows []any) error {
	attempts := 0
	backoff := e.retry.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.client.InsertRows(ctx, e.table, rows)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= e.retry.MaxAttempts || !isRetryable(err) {
			return fmt.Errorf("insert %s rows: %w", e.table, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, e.retry.MaximumBackoff)
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pme *cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if pme == nil || len(*pme) == 0 {
			return false
		}
		for _, rowErr := range *pme {
			if !isRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		if len(multi) == 0 {
			return false
		}
		for _, inner := range multi {
			if !isRetryable(inner) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
				return true
			}
		}
	}
	return false
}
