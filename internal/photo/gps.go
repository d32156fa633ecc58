package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/kratadata/quartier-atlas/internal/geo"
)

// GPSReader extracts embedded coordinates. A nil point with a nil error
// means the file carries no location.
type GPSReader interface {
	ReadGPS(ctx context.Context, path string) (*geo.GeoPoint, error)
}

// EXIFReader reads GPS tags from JPEG/TIFF EXIF blocks.
type EXIFReader struct{}

// ReadGPS implements GPSReader.
func (EXIFReader) ReadGPS(ctx context.Context, path string) (*geo.GeoPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode exif: %w", err)
	}

	lat, lon, err := x.LatLong()
	if err != nil {
		return nil, nil
	}
	return point(lat, lon), nil
}

// ExiftoolReader reads GPS through a long-running exiftool process, which
// also understands HEIC.
type ExiftoolReader struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

// NewExiftoolReader starts exiftool at command. Close stops it.
func NewExiftoolReader(command string) (*ExiftoolReader, error) {
	if command == "" {
		command = "exiftool"
	}
	et, err := exiftool.NewExiftool(
		exiftool.SetExiftoolBinaryPath(command),
		exiftool.CoordFormant("%+.8f"),
	)
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolReader{et: et}, nil
}

// ReadGPS implements GPSReader.
func (r *ExiftoolReader) ReadGPS(ctx context.Context, path string) (*geo.GeoPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// One stay_open process serves every request.
	r.mu.Lock()
	metas := r.et.ExtractMetadata(path)
	r.mu.Unlock()

	if len(metas) == 0 {
		return nil, nil
	}
	if metas[0].Err != nil {
		return nil, fmt.Errorf("exiftool: %w", metas[0].Err)
	}
	return gpsFromMetadata(metas[0])
}

// Close stops the exiftool process.
func (r *ExiftoolReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.et.Close()
}

func gpsFromMetadata(fm exiftool.FileMetadata) (*geo.GeoPoint, error) {
	lat, err := fm.GetFloat("GPSLatitude")
	if errors.Is(err, exiftool.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GPSLatitude: %w", err)
	}
	lon, err := fm.GetFloat("GPSLongitude")
	if errors.Is(err, exiftool.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GPSLongitude: %w", err)
	}
	return point(lat, lon), nil
}

// point treats zero coordinates as absent, as cameras write 0/0 when the
// fix is missing.
func point(lat, lon float64) *geo.GeoPoint {
	if lat == 0 || lon == 0 {
		return nil
	}
	return &geo.GeoPoint{Lat: lat, Lon: lon}
}

// ChainReader asks each reader in turn and returns the first location found.
// Reader errors are logged and never returned: a photo without readable
// metadata simply has no location.
type ChainReader struct {
	Readers []GPSReader
	Logger  *slog.Logger
}

// NewDefaultReader uses EXIF first and exiftool when it is installed.
func NewDefaultReader(command string, logger *slog.Logger) *ChainReader {
	if logger == nil {
		logger = slog.Default()
	}
	readers := []GPSReader{EXIFReader{}}
	if command == "" {
		command = "exiftool"
	}
	if path, err := exec.LookPath(command); err == nil {
		r, err := NewExiftoolReader(path)
		if err != nil {
			logger.Warn("exiftool unavailable, using EXIF only", "error", err)
		} else {
			readers = append(readers, r)
		}
	}
	return &ChainReader{Readers: readers, Logger: logger}
}

// Close releases readers that hold a process.
func (c *ChainReader) Close() error {
	var errs []error
	for _, r := range c.Readers {
		if cl, ok := r.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}

// ReadGPS implements GPSReader.
func (c *ChainReader) ReadGPS(ctx context.Context, path string) (*geo.GeoPoint, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, r := range c.Readers {
		p, err := r.ReadGPS(ctx, path)
		if err != nil {
			logger.Debug("gps reader failed", "reader", fmt.Sprintf("%T", r), "error", err)
			continue
		}
		if p != nil {
			logger.Info("gps found", "lat", p.Lat, "lon", p.Lon)
			return p, nil
		}
	}

	logger.Info("no gps data found in image")
	return nil, nil
}
