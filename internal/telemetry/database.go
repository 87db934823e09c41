package telemetry

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenPostgres opens an instrumented lib/pq pool and exports its connection
// stats through the global meter provider. The DSN host and port end up on
// every span.
func OpenPostgres(dsn string) (*sql.DB, error) {
	attrs := postgresAttributes(dsn)

	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(attrs...),
		otelsql.WithSpanOptions(otelsql.SpanOptions{
			OmitConnResetSession: true,
			OmitRows:             true,
			DisableErrSkip:       true,
		}),
	)
	if err != nil {
		return nil, err
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(attrs...)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register db stats metrics: %w", err)
	}

	return db, nil
}

func postgresAttributes(dsn string) []attribute.KeyValue {
	return append([]attribute.KeyValue{semconv.DBSystemPostgreSQL}, otelsql.AttributesFromDSN(dsn)...)
}
