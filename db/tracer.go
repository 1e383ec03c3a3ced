package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mailflow/rudder/logger"
)

// queryTracer logs every query when database.log_queries is enabled.
type queryTracer struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	logger.Debug("Executing query", "sql", data.SQL, "args", data.Args)
	return ctx
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		logger.Debug("Query failed", "error", data.Err)
	}
}
