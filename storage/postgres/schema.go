package postgres

import (
	"fmt"
	"strings"

	"github.com/poiesic/embedvector/core"
)

const baseSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embeddings (
	id BIGSERIAL PRIMARY KEY,
	model_id TEXT NOT NULL,
	model_type TEXT NOT NULL,
	embedding %s NOT NULL,
	embedding_sync_required BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (model_id, model_type)
);
CREATE INDEX IF NOT EXISTS embeddings_sync_required ON embeddings (model_type) WHERE embedding_sync_required;

CREATE TABLE IF NOT EXISTS embedding_batches (
	batch_id TEXT PRIMARY KEY,
	input_file_id TEXT NOT NULL,
	output_file_id TEXT,
	saved_file_path TEXT,
	embeddable_model TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS embedding_batches_status ON embedding_batches (status);

CREATE TABLE IF NOT EXISTS sync_embedding_queues (
	model_id TEXT NOT NULL,
	model_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (model_id, model_type)
);
`

// schemaSQL renders the DDL. A positive dimension fixes the column width and
// adds an HNSW index for the metric.
func schemaSQL(dimensions int, metric core.Metric) string {
	column := "vector"
	if dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", dimensions)
	}
	var b strings.Builder
	fmt.Fprintf(&b, baseSchema, column)
	if dimensions > 0 {
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS embeddings_hnsw_%s ON embeddings USING hnsw (embedding %s);\n",
			metricName(metric), operatorClass(metric))
	}
	return b.String()
}

func metricName(metric core.Metric) string {
	if metric == core.MetricL2 {
		return "l2"
	}
	return "cosine"
}

func operatorClass(metric core.Metric) string {
	if metric == core.MetricL2 {
		return "vector_l2_ops"
	}
	return "vector_cosine_ops"
}

// distanceSQL renders the distance between column and the bound vector.
// pgvector yields NaN for a zero vector under cosine; it is mapped to 1 like
// core.CosineDistance.
func distanceSQL(metric core.Metric, column, param string) string {
	if metric == core.MetricL2 {
		return fmt.Sprintf("(%s <-> %s)", column, param)
	}
	return fmt.Sprintf("COALESCE(NULLIF(%s <=> %s, 'NaN'::float8), 1)", column, param)
}
