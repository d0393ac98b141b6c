package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/gcp"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errSchemaRequired       = errors.New("bigquery table schema is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client writes insight events into a single analytics dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	create  bool
	logg    *logger.Logger
}

// NewClient opens the dataset. Unless table creation is enabled the dataset
// must already exist; individual tables are checked by EnsureTable.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcpCfg.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	if strings.TrimSpace(cfg.InsightsTable) == "" {
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{client: bq, dataset: bq.Dataset(datasetID), create: cfg.CreateTables, logg: logg}

	if err := c.checkDataset(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "create_tables": cfg.CreateTables}), "bigquery client initialized")
	}
	return c, nil
}

// Ping reports whether the dataset is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

func (c *Client) checkDataset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	_, err := c.dataset.Metadata(ctx)
	switch {
	case err == nil:
		return nil
	case !isNotFound(err):
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	case !c.create:
		return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
	}
	if err := c.dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isConflict(err) {
		return fmt.Errorf("creating dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// TableDef describes a table the client may provision.
type TableDef struct {
	Name string
	// Schema is usually built with bigquery.InferSchema on the row struct.
	Schema bigquery.Schema
	// PartitionField enables daily time partitioning on a TIMESTAMP column.
	PartitionField string
}

// EnsureTable verifies the table exists, creating it when table creation is enabled.
func (c *Client) EnsureTable(ctx context.Context, def TableDef) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errTableNameRequired
	}
	if len(def.Schema) == 0 {
		return errSchemaRequired
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(name)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
		return nil
	case !isNotFound(err):
		return fmt.Errorf("checking table %q: %w", name, err)
	case !c.create:
		return fmt.Errorf("table %q does not exist", name)
	}

	if err := table.Create(ctx, tableMetadata(def)); err != nil && !isConflict(err) {
		return fmt.Errorf("creating table %q: %w", name, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
	}
	return nil
}

func tableMetadata(def TableDef) *bigquery.TableMetadata {
	md := &bigquery.TableMetadata{Schema: def.Schema}
	if field := strings.TrimSpace(def.PartitionField); field != "" {
		md.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: field}
	}
	return md
}

// InsertRows streams rows into a table of the dataset.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return apiStatus(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiStatus(err) == http.StatusConflict
}

func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code
	}
	return 0
}
