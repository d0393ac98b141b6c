package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"google.golang.org/api/googleapi"
)

// ErrorDump is the loggable breakdown of an error chain. Database and Google
// API details are filled in when such an error sits anywhere in the chain.
type ErrorDump struct {
	TopMessage string
	Code       Code
	Chain      []string

	PGCode       string
	PGConstraint string
	PGTable      string
	PGColumn     string
	PGDetail     string
	PGMessage    string

	ProviderStatus int
	ProviderReason string
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGColumn = pgxErr.ColumnName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGColumn = pqErr.Column
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		d.ProviderStatus = apiErr.Code
		if len(apiErr.Errors) > 0 {
			d.ProviderReason = apiErr.Errors[0].Reason
		}
	}
	return d
}

// Fields flattens the dump into log fields, omitting empty values.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	for key, value := range map[string]string{
		"pg_code":         d.PGCode,
		"pg_constraint":   d.PGConstraint,
		"pg_table":        d.PGTable,
		"pg_column":       d.PGColumn,
		"pg_detail":       d.PGDetail,
		"pg_message":      d.PGMessage,
		"provider_reason": d.ProviderReason,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if d.ProviderStatus != 0 {
		fields["provider_status"] = d.ProviderStatus
	}
	return fields
}
