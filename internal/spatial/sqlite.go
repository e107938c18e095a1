package spatial

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"go.uber.org/zap"

	"fieldmap/internal/projection"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS layers (
	name TEXT PRIMARY KEY,
	srid INTEGER NOT NULL DEFAULT 4326,
	geometry_type TEXT NOT NULL,
	style TEXT
);
CREATE TABLE IF NOT EXISTS features (
	id INTEGER NOT NULL,
	layer TEXT NOT NULL,
	minx REAL NOT NULL,
	miny REAL NOT NULL,
	maxx REAL NOT NULL,
	maxy REAL NOT NULL,
	geom BLOB NOT NULL,
	attributes TEXT,
	PRIMARY KEY (layer, id)
);
CREATE INDEX IF NOT EXISTS features_bbox ON features (layer, minx, maxx, miny, maxy);
`

// SQLiteStore reads features from a sqlite database holding WKB geometries
// with precomputed bounding boxes.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func OpenSQLite(dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open spatial database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare spatial database: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// CreateTable registers a layer, replacing an existing definition.
func (s *SQLiteStore) CreateTable(ctx context.Context, t Table) error {
	if t.SRID == 0 {
		t.SRID = projection.WGS84
	}
	if t.Style == nil {
		t.Style = DefaultStyle(t.Name)
	}
	style, err := json.Marshal(t.Style)
	if err != nil {
		return fmt.Errorf("failed to marshal style: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO layers (name, srid, geometry_type, style) VALUES (?, ?, ?, ?)",
		t.Name, int(t.SRID), t.Type.String(), string(style))
	if err != nil {
		return fmt.Errorf("failed to create layer %s: %w", t.Name, err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, table string, f Feature) error {
	data, err := wkb.Marshal(f.Geometry)
	if err != nil {
		return fmt.Errorf("failed to encode feature %d: %w", f.ID, err)
	}
	attrs, err := json.Marshal(f.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes of feature %d: %w", f.ID, err)
	}
	b := f.Geometry.Bound()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO features (id, layer, minx, miny, maxx, maxy, geom, attributes) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, table, b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y(), data, string(attrs))
	if err != nil {
		return fmt.Errorf("failed to insert feature %d: %w", f.ID, err)
	}
	return nil
}

func (s *SQLiteStore) table(ctx context.Context, name string) (Table, error) {
	var (
		srid     int
		geomType string
		style    sql.NullString
	)
	row := s.db.QueryRowContext(ctx, "SELECT srid, geometry_type, style FROM layers WHERE name = ?", name)
	if err := row.Scan(&srid, &geomType, &style); err != nil {
		if err == sql.ErrNoRows {
			return Table{}, fmt.Errorf("%s: %w", name, ErrUnknownTable)
		}
		return Table{}, fmt.Errorf("failed to read layer %s: %w", name, err)
	}

	t := Table{Name: name, SRID: projection.SRID(srid), Type: ParseGeometryType(geomType), Style: DefaultStyle(name)}
	if style.Valid && style.String != "" {
		st := DefaultStyle(name)
		if err := json.Unmarshal([]byte(style.String), st); err != nil {
			s.logger.Warn("Invalid layer style, using default", zap.String("layer", name), zap.Error(err))
		} else {
			t.Style = st
		}
	}
	return t, nil
}

func (s *SQLiteStore) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM layers ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t, err := s.table(ctx, name)
		if err != nil {
			return nil, err
		}
		var minx, miny, maxx, maxy sql.NullFloat64
		row := s.db.QueryRowContext(ctx, "SELECT MIN(minx), MIN(miny), MAX(maxx), MAX(maxy) FROM features WHERE layer = ?", name)
		if err := row.Scan(&minx, &miny, &maxx, &maxy); err == nil && minx.Valid {
			t.Bound = orb.Bound{Min: orb.Point{minx.Float64, miny.Float64}, Max: orb.Point{maxx.Float64, maxy.Float64}}
		}
		tables = append(tables, t)
	}
	sortTables(tables)
	return tables, nil
}

func (s *SQLiteStore) QueryByEnvelope(ctx context.Context, table string, env orb.Bound, srid projection.SRID) ([]Feature, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}
	env, err = toTableSRID(env, srid, t.SRID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, geom, attributes FROM features WHERE layer = ? AND maxx >= ? AND minx <= ? AND maxy >= ? AND miny <= ? ORDER BY id",
		table, env.Min.X(), env.Max.X(), env.Min.Y(), env.Max.Y())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var (
			id    int64
			geom  []byte
			attrs sql.NullString
		)
		if err := rows.Scan(&id, &geom, &attrs); err != nil {
			return nil, fmt.Errorf("failed to read feature: %w", err)
		}
		g, err := wkb.Unmarshal(geom)
		if err != nil {
			s.logger.Debug("Skipping feature with invalid geometry", zap.String("layer", table), zap.Int64("id", id), zap.Error(err))
			continue
		}
		f := Feature{ID: id, Geometry: g}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &f.Attributes); err != nil {
				s.logger.Debug("Ignoring invalid attributes", zap.String("layer", table), zap.Int64("id", id), zap.Error(err))
			}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return out, nil
}

func (s *SQLiteStore) Style(ctx context.Context, table, themeKey string) (*Style, error) {
	t, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}
	if themeKey == "" {
		return t.Style, nil
	}
	return t.Style.Resolve(themeKey), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
