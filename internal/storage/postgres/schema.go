package postgres

// Schema contains the base SQL schema. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memcells (
    id TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS memscenes (
    id TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// MigrationPgvector adds a vector column to memcells for accelerated cosine
// search. Applied only when the pgvector extension is available. The column
// is dimensionless so corpora with different embedding models coexist; an
// index can be added once the embedding dimension is fixed.
const MigrationPgvector = `
ALTER TABLE memcells ADD COLUMN IF NOT EXISTS embedding vector;
`
