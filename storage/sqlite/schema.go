package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model_id TEXT NOT NULL,
	model_type TEXT NOT NULL,
	embedding BLOB NOT NULL,
	embedding_sync_required INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS embeddings_model_unique ON embeddings (model_id, model_type);
CREATE INDEX IF NOT EXISTS embeddings_sync_required ON embeddings (model_type, embedding_sync_required);

CREATE TABLE IF NOT EXISTS embedding_batches (
	batch_id TEXT PRIMARY KEY,
	input_file_id TEXT NOT NULL,
	output_file_id TEXT,
	saved_file_path TEXT,
	embeddable_model TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS embedding_batches_status ON embedding_batches (status);

CREATE TABLE IF NOT EXISTS sync_embedding_queues (
	model_id TEXT NOT NULL,
	model_type TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (model_id, model_type)
);
`
