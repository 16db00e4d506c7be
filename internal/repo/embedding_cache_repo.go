package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/imgidx/internal/model"
)

// EmbeddingCacheRepo stores one vector per (content_digest, model_version).
// Rows are content-addressed, so re-saving an existing key is a no-op from the
// caller's point of view. Postgres keeps vectors in a pgvector column, sqlite
// as JSON text.
type EmbeddingCacheRepo struct {
	db     *sql.DB
	driver string
}

func NewEmbeddingCacheRepo(db *sql.DB, driver string) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db, driver: driver}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, contentDigest, modelVersion string) ([]float32, bool, error) {
	if r.driver == DriverPostgres {
		const query = `
			SELECT embedding
			FROM embedding_cache
			WHERE content_digest = $1 AND model_version = $2
		`
		row := r.db.QueryRowContext(ctx, query, contentDigest, modelVersion)
		var embedding pgvector.Vector
		if err := row.Scan(&embedding); err != nil {
			if err == sql.ErrNoRows {
				return nil, false, nil
			}
			return nil, false, err
		}
		return embedding.Slice(), true, nil
	}
	const query = `
		SELECT embedding
		FROM embedding_cache
		WHERE content_digest = ? AND model_version = ?
	`
	row := r.db.QueryRowContext(ctx, query, contentDigest, modelVersion)
	var blob string
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	values, err := decodeVectorJSON(blob)
	if err != nil {
		return nil, false, err
	}
	return values, true, nil
}

// GetBatch returns the cached vectors for the given digests under one model.
// Missing digests are simply absent from the result map.
func (r *EmbeddingCacheRepo) GetBatch(ctx context.Context, modelVersion string, digests []string) (map[string][]float32, error) {
	if len(digests) == 0 {
		return map[string][]float32{}, nil
	}
	query, args, err := sqlx.In(
		`SELECT content_digest, embedding FROM embedding_cache WHERE model_version = ? AND content_digest IN (?)`,
		modelVersion, digests,
	)
	if err != nil {
		return nil, err
	}
	if r.driver == DriverPostgres {
		query = sqlx.Rebind(sqlx.DOLLAR, query)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string][]float32, len(digests))
	for rows.Next() {
		var digest string
		var values []float32
		if r.driver == DriverPostgres {
			var embedding pgvector.Vector
			if err := rows.Scan(&digest, &embedding); err != nil {
				return nil, err
			}
			values = embedding.Slice()
		} else {
			var blob string
			if err := rows.Scan(&digest, &blob); err != nil {
				return nil, err
			}
			values, err = decodeVectorJSON(blob)
			if err != nil {
				return nil, err
			}
		}
		result[digest] = values
	}
	return result, rows.Err()
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if r.driver == DriverPostgres {
		const query = `
			INSERT INTO embedding_cache (content_digest, model_version, dim, embedding, ctime)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (content_digest, model_version) DO UPDATE SET
				dim = EXCLUDED.dim,
				embedding = EXCLUDED.embedding,
				ctime = EXCLUDED.ctime
		`
		_, err := r.db.ExecContext(ctx, query,
			item.ContentDigest,
			item.ModelVersion,
			item.Dim,
			pgvector.NewVector(item.Embedding),
			item.Ctime,
		)
		return err
	}
	blob, err := json.Marshal(item.Embedding)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"content_digest": item.ContentDigest,
		"model_version":  item.ModelVersion,
		"dim":            item.Dim,
		"embedding":      string(blob),
		"ctime":          item.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("embedding_cache", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr = strings.Replace(sqlStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// Delete removes cached vectors for the given digests across all model
// versions. Used when content is known to be gone for good.
func (r *EmbeddingCacheRepo) Delete(ctx context.Context, digests ...string) (int64, error) {
	if len(digests) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM embedding_cache WHERE content_digest IN (?)`, digests)
	if err != nil {
		return 0, err
	}
	if r.driver == DriverPostgres {
		query = sqlx.Rebind(sqlx.DOLLAR, query)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *EmbeddingCacheRepo) Count(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOtherModels drops rows cached under model versions other than the
// active one. Old-model rows are dead weight once a deployment switches models.
func (r *EmbeddingCacheRepo) DeleteOtherModels(ctx context.Context, keepModelVersion string) (int64, error) {
	query := `DELETE FROM embedding_cache WHERE model_version != ?`
	if r.driver == DriverPostgres {
		query = sqlx.Rebind(sqlx.DOLLAR, query)
	}
	res, err := r.db.ExecContext(ctx, query, keepModelVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func decodeVectorJSON(blob string) ([]float32, error) {
	var values []float32
	if err := json.Unmarshal([]byte(blob), &values); err != nil {
		return nil, err
	}
	return values, nil
}
