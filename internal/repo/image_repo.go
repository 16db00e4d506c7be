package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/imgidx/internal/model"
	"github.com/xxxsen/imgidx/internal/pkg/dbutil"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var imageFields = []string{"path", "source_name", "content_digest", "size", "mod_time", "ctime", "mtime"}

// ImageRepo persists one row per indexed path. Vector data lives in
// embedding_cache; rows here reference it through content_digest.
type ImageRepo struct {
	db     *sql.DB
	driver string
}

func NewImageRepo(db *sql.DB, driver string) *ImageRepo {
	return &ImageRepo{db: db, driver: driver}
}

func (r *ImageRepo) Upsert(ctx context.Context, rec *model.ImageRecord) error {
	if r.driver == DriverPostgres {
		const query = `
			INSERT INTO images (path, source_name, content_digest, size, mod_time, ctime, mtime)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (path) DO UPDATE SET
				source_name = EXCLUDED.source_name,
				content_digest = EXCLUDED.content_digest,
				size = EXCLUDED.size,
				mod_time = EXCLUDED.mod_time,
				mtime = EXCLUDED.mtime
		`
		_, err := r.db.ExecContext(ctx, query,
			rec.Path, rec.SourceName, rec.ContentDigest, rec.Size, rec.ModTime, rec.Ctime, rec.Mtime)
		return err
	}
	data := map[string]interface{}{
		"path":           rec.Path,
		"source_name":    rec.SourceName,
		"content_digest": rec.ContentDigest,
		"size":           rec.Size,
		"mod_time":       rec.ModTime,
		"ctime":          rec.Ctime,
		"mtime":          rec.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("images", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr = strings.Replace(sqlStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ImageRepo) GetByPath(ctx context.Context, path string) (*model.ImageRecord, error) {
	where := map[string]interface{}{
		"path": path,
	}
	sqlStr, args, err := builder.BuildSelect("images", where, imageFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var rec model.ImageRecord
	if err := scanImage(row.Scan, &rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ImageRepo) ListAll(ctx context.Context) ([]model.ImageRecord, error) {
	return r.list(ctx, nil)
}

func (r *ImageRepo) ListBySource(ctx context.Context, sourceName string) ([]model.ImageRecord, error) {
	return r.list(ctx, map[string]interface{}{"source_name": sourceName})
}

func (r *ImageRepo) list(ctx context.Context, where map[string]interface{}) ([]model.ImageRecord, error) {
	if where == nil {
		where = map[string]interface{}{}
	}
	where["_orderby"] = "path asc"
	sqlStr, args, err := builder.BuildSelect("images", where, imageFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ImageRecord
	for rows.Next() {
		var rec model.ImageRecord
		if err := scanImage(rows.Scan, &rec); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *ImageRepo) DeleteByPaths(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM images WHERE path IN (?)`, paths)
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

func (r *ImageRepo) Count(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ImageRepo) finalize(query string, args []interface{}) (string, []interface{}) {
	if r.driver == DriverPostgres {
		return dbutil.Finalize(query, args)
	}
	return query, args
}

func scanImage(scan func(dest ...interface{}) error, rec *model.ImageRecord) error {
	return scan(&rec.Path, &rec.SourceName, &rec.ContentDigest, &rec.Size, &rec.ModTime, &rec.Ctime, &rec.Mtime)
}
