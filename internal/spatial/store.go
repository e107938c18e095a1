package spatial

import (
	"context"
	"errors"
	"sort"

	"github.com/paulmach/orb"

	"fieldmap/internal/projection"
)

var ErrUnknownTable = errors.New("unknown table")

// Table describes one feature layer of a store.
type Table struct {
	Name  string
	SRID  projection.SRID
	Type  GeometryType
	Style *Style
	Bound orb.Bound
}

// Store answers envelope queries. Envelopes passed with a SRID other than the
// table's own are reprojected; features come back in the table's SRID,
// ordered by feature id.
type Store interface {
	Tables(ctx context.Context) ([]Table, error)
	QueryByEnvelope(ctx context.Context, table string, env orb.Bound, srid projection.SRID) ([]Feature, error)
	Style(ctx context.Context, table, themeKey string) (*Style, error)
	Close() error
}

func toTableSRID(env orb.Bound, from, to projection.SRID) (orb.Bound, error) {
	if from == 0 {
		from = projection.WGS84
	}
	return projection.ReprojectBound(env, from, to)
}

// sortTables orders tables by style order, keeping insertion order for ties.
func sortTables(tables []Table) {
	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Style.Order < tables[j].Style.Order
	})
}
