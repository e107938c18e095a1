package source

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	KindDebug   = "debug"
	KindMBTiles = "mbtiles"
	KindXYZ     = "xyz"
	KindImage   = "image"
	KindVector  = "vector"
)

type Options struct {
	HTTPTimeout time.Duration
}

// Open creates a source of the given kind. location is a file path, or a
// URL template for xyz sources.
func Open(kind, location string, opts Options, logger *zap.Logger) (Source, error) {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}

	var (
		src Source
		err error
	)
	switch kind {
	case KindDebug, "":
		src = NewDebugSource()
	case KindMBTiles:
		src, err = OpenMBTiles(location, logger)
	case KindXYZ:
		src, err = NewXYZ(location, opts.HTTPTimeout, logger)
	case KindImage:
		src, err = OpenImage(location, logger)
	case KindVector:
		src, err = OpenVector(location, logger)
	default:
		return nil, fmt.Errorf("unknown tile source %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source: %w", kind, err)
	}

	logger.Info("Tile source opened", zap.String("kind", kind), zap.String("id", src.ID()))
	return src, nil
}
