package placements

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kratadata/quartier-atlas/internal/db"
	"github.com/kratadata/quartier-atlas/internal/geo"
)

// Schema holds the placement table in Postgres.
const Schema = "quartier"

type placementRow struct {
	ImageURL   string `gorm:"primaryKey;column:image_url"`
	Position   int    `gorm:"not null;index"`
	Caption    string `gorm:"not null;default:''"`
	QuartierID int    `gorm:"column:quartier_id;not null"`
	X          float64
	Y          float64
	Scale      float64 `gorm:"not null;default:1"`
	ZIndex     int     `gorm:"column:z_index"`
	Lat        *float64
	Lon        *float64
}

func (placementRow) TableName() string { return Schema + ".placements" }

func toRow(a PlacedArtifact, position int) placementRow {
	r := placementRow{
		ImageURL:   a.ImageURL,
		Position:   position,
		Caption:    a.Caption,
		QuartierID: a.QuartierID,
		X:          a.X,
		Y:          a.Y,
		Scale:      a.Scale,
		ZIndex:     a.ZIndex,
	}
	if a.GPS != nil {
		r.Lat, r.Lon = &a.GPS.Lat, &a.GPS.Lon
	}
	return r
}

func (r placementRow) artifact() PlacedArtifact {
	a := PlacedArtifact{
		ImageURL:   r.ImageURL,
		Caption:    r.Caption,
		QuartierID: r.QuartierID,
		X:          r.X,
		Y:          r.Y,
		Scale:      r.Scale,
		ZIndex:     r.ZIndex,
	}
	if r.Lat != nil && r.Lon != nil {
		a.GPS = &geo.GeoPoint{Lat: *r.Lat, Lon: *r.Lon}
	}
	return a
}

// dedupe keeps the last entry per URL, at the position of the first.
func dedupe(images []PlacedArtifact) []PlacedArtifact {
	idx := make(map[string]int, len(images))
	out := make([]PlacedArtifact, 0, len(images))
	for _, img := range images {
		if i, ok := idx[img.ImageURL]; ok {
			out[i] = img
			continue
		}
		idx[img.ImageURL] = len(out)
		out = append(out, img)
	}
	return out
}

// PostgresStore keeps one row per artifact.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore migrates the placement table.
func NewPostgresStore(d *gorm.DB) (*PostgresStore, error) {
	if err := db.EnsureSchema(d, Schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := d.AutoMigrate(&placementRow{}); err != nil {
		return nil, fmt.Errorf("migrate placements: %w", err)
	}
	return &PostgresStore{db: d}, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) (Document, error) {
	var rows []placementRow
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return Document{}, fmt.Errorf("load placements: %w", err)
	}
	doc := Document{Images: make([]PlacedArtifact, 0, len(rows))}
	for _, r := range rows {
		doc.Images = append(doc.Images, r.artifact())
	}
	return doc, nil
}

// Replace implements Store.
func (s *PostgresStore) Replace(ctx context.Context, doc Document) error {
	images := dedupe(doc.Images)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&placementRow{}).Error; err != nil {
			return fmt.Errorf("clear placements: %w", err)
		}
		if len(images) == 0 {
			return nil
		}
		rows := make([]placementRow, 0, len(images))
		for i, img := range images {
			rows = append(rows, toRow(img, i+1))
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("insert placements: %w", err)
		}
		return nil
	})
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, a PlacedArtifact) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var top struct {
			Position int
			ZIndex   int
		}
		if err := tx.Model(&placementRow{}).
			Select("COALESCE(MAX(position), 0) AS position, COALESCE(MAX(z_index), 0) AS z_index").
			Scan(&top).Error; err != nil {
			return fmt.Errorf("read placement bounds: %w", err)
		}
		if a.ZIndex == 0 {
			a.ZIndex = top.ZIndex + 1
		}
		row := toRow(a, top.Position+1)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
}

// Remove implements Store.
func (s *PostgresStore) Remove(ctx context.Context, imageURL string) (int, error) {
	res := s.db.WithContext(ctx).Where("image_url = ?", imageURL).Delete(&placementRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("remove placement: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Existing reports which of urls already have a row.
func (s *PostgresStore) Existing(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return found, nil
	}
	var hits []string
	err := s.db.WithContext(ctx).Model(&placementRow{}).
		Where("image_url = ANY(?)", pq.Array(urls)).
		Pluck("image_url", &hits).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup placements: %w", err)
	}
	for _, u := range hits {
		found[u] = true
	}
	return found, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return db.Close(s.db)
}
