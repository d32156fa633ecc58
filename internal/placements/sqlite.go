package placements

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kratadata/quartier-atlas/internal/geo"

	_ "modernc.org/sqlite"
)

var columns = []string{"image_url", "caption", "quartier_id", "x", "y", "scale", "z_index", "lat", "lon"}

// SQLiteStore keeps placements in an embedded database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	d, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	d.SetMaxOpenConns(1)
	d.SetConnMaxLifetime(0)
	d.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLiteStore{db: d}
	if err := s.initSchema(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS placements (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		image_url TEXT NOT NULL UNIQUE,
		caption TEXT NOT NULL DEFAULT '',
		quartier_id INTEGER NOT NULL,
		x REAL NOT NULL DEFAULT 0,
		y REAL NOT NULL DEFAULT 0,
		scale REAL NOT NULL DEFAULT 1,
		z_index INTEGER NOT NULL DEFAULT 0,
		lat REAL,
		lon REAL
	);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func gpsArgs(a PlacedArtifact) (lat, lon any) {
	if a.GPS == nil {
		return nil, nil
	}
	return a.GPS.Lat, a.GPS.Lon
}

func insertQuery(images ...PlacedArtifact) sq.InsertBuilder {
	q := sq.Insert("placements").Columns(columns...)
	for _, a := range images {
		lat, lon := gpsArgs(a)
		q = q.Values(a.ImageURL, a.Caption, a.QuartierID, a.X, a.Y, a.Scale, a.ZIndex, lat, lon)
	}
	return q
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Document, error) {
	query, args, err := sq.Select(columns...).From("placements").OrderBy("position").ToSql()
	if err != nil {
		return Document{}, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Document{}, fmt.Errorf("load placements: %w", err)
	}
	defer rows.Close()

	doc := Document{Images: []PlacedArtifact{}}
	for rows.Next() {
		var a PlacedArtifact
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&a.ImageURL, &a.Caption, &a.QuartierID, &a.X, &a.Y, &a.Scale, &a.ZIndex, &lat, &lon); err != nil {
			return Document{}, fmt.Errorf("scan placement: %w", err)
		}
		if lat.Valid && lon.Valid {
			a.GPS = &geo.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
		}
		doc.Images = append(doc.Images, a)
	}
	return doc, rows.Err()
}

// Replace implements Store.
func (s *SQLiteStore) Replace(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM placements;`); err != nil {
		return fmt.Errorf("clear placements: %w", err)
	}
	// Reset AUTOINCREMENT so positions restart with the new document.
	if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'placements';`); err != nil {
		return fmt.Errorf("reset placement sequence: %w", err)
	}

	images := dedupe(doc.Images)
	for start := 0; start < len(images); start += 100 {
		end := min(start+100, len(images))
		query, args, err := insertQuery(images[start:end]...).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert placements: %w", err)
		}
	}
	return tx.Commit()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, a PlacedArtifact) error {
	if a.ZIndex == 0 {
		var top int
		query, args, err := sq.Select("COALESCE(MAX(z_index), 0)").From("placements").ToSql()
		if err != nil {
			return err
		}
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&top); err != nil {
			return fmt.Errorf("read max z-index: %w", err)
		}
		a.ZIndex = top + 1
	}

	query, args, err := insertQuery(a).Options("OR IGNORE").ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append placement: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, imageURL string) (int, error) {
	query, args, err := sq.Delete("placements").Where(sq.Eq{"image_url": imageURL}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("remove placement: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Existing reports which of urls already have a row.
func (s *SQLiteStore) Existing(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return found, nil
	}

	query, args, err := sq.Select("image_url").From("placements").Where(sq.Eq{"image_url": urls}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup placements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		found[u] = true
	}
	return found, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
