package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/subradar/subradar-backend/pkg/config"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		gcp  config.GCPConfig
		bq   config.BigQueryConfig
		want error
	}{
		{config.GCPConfig{}, config.BigQueryConfig{Dataset: "d", InsightsTable: "t"}, errProjectIDRequired},
		{config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{InsightsTable: "t"}, errDatasetRequired},
		{config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "d", InsightsTable: " "}, errTableNameRequired},
	}
	for _, tc := range cases {
		if _, err := NewClient(ctx, tc.gcp, tc.bq, nil); !errors.Is(err, tc.want) {
			t.Fatalf("expected %v, got %v", tc.want, err)
		}
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.InsertRows(context.Background(), "t", []any{1}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("insert rows: %v", err)
	}
	if err := c.EnsureTable(context.Background(), TableDef{Name: "t"}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("ensure table: %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("ping: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestTableMetadataPartitioning(t *testing.T) {
	schema := bigquery.Schema{{Name: "created_at", Type: bigquery.TimestampFieldType}}

	md := tableMetadata(TableDef{Name: "insight_events", Schema: schema, PartitionField: "created_at"})
	if len(md.Schema) != 1 || md.Schema[0].Name != "created_at" {
		t.Fatalf("unexpected schema %+v", md.Schema)
	}
	if md.TimePartitioning == nil || md.TimePartitioning.Field != "created_at" || md.TimePartitioning.Type != bigquery.DayPartitioningType {
		t.Fatalf("unexpected partitioning %+v", md.TimePartitioning)
	}

	if tableMetadata(TableDef{Name: "t", Schema: schema}).TimePartitioning != nil {
		t.Fatalf("expected no partitioning without a field")
	}
}

func TestAPIStatus(t *testing.T) {
	if !isNotFound(fmt.Errorf("wrap: %w", &googleapi.Error{Code: http.StatusNotFound})) {
		t.Fatalf("expected wrapped 404 to be not found")
	}
	if isNotFound(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Fatalf("403 is not a not-found")
	}
	if !isConflict(&googleapi.Error{Code: http.StatusConflict}) {
		t.Fatalf("expected 409 to be a conflict")
	}
	if apiStatus(fmt.Errorf("plain")) != 0 {
		t.Fatalf("expected zero status for plain errors")
	}
}
