package photo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalized describes the working file after conversion.
type Normalized struct {
	Path      string
	Filename  string
	MimeType  string
	Converted bool
}

// Normalizer turns an upload into a format every collaborator accepts.
type Normalizer interface {
	Normalize(ctx context.Context, path, filename string) (Normalized, error)
}

// ConverterConfig tunes the Converter.
type ConverterConfig struct {
	// JPEGQuality for re-encoded rasters (1-100).
	JPEGQuality int
	// MaxDimension bounds the long side of converted images, 0 keeps the size.
	MaxDimension int
}

// Converter converts legacy containers (HEIC/HEIF, WebP, BMP, TIFF) to
// JPEG in-process. JPEG, PNG and GIF pass through untouched.
type Converter struct {
	cfg    ConverterConfig
	logger *slog.Logger
}

// NewConverter creates a Converter.
func NewConverter(cfg ConverterConfig, logger *slog.Logger) *Converter {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{cfg: cfg, logger: logger}
}

var heicExts = map[string]bool{"heic": true, "heif": true}
var rasterExts = map[string]bool{"webp": true, "bmp": true, "tif": true, "tiff": true}

// Normalize converts path if either the stored path or the original filename
// marks it as a legacy format. The pre-conversion file is removed after a
// successful conversion.
func (c *Converter) Normalize(ctx context.Context, path, filename string) (Normalized, error) {
	if _, err := os.Stat(path); err != nil {
		return Normalized{}, fmt.Errorf("file not found: %w", err)
	}

	ext := Ext(filename)
	if ext == "" {
		ext = Ext(path)
	}

	var err error
	switch {
	case heicExts[ext] || heicExts[Ext(path)]:
		err = c.convertHEIC(path)
	case rasterExts[ext]:
		err = c.convertRaster(path)
	default:
		c.logger.Debug("no conversion needed", "filename", filename)
		name := EnsureExt(filename)
		return Normalized{Path: path, Filename: name, MimeType: MimeType(name)}, nil
	}
	if err != nil {
		return Normalized{}, err
	}

	out := convertedPath(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("could not remove pre-conversion file", "path", path, "error", err)
	}

	name := "image.jpg"
	if filename != "" {
		name = ReplaceExt(filename, "jpg")
	}
	c.logger.Info("converted upload", "from", ext, "filename", name)

	return Normalized{Path: out, Filename: name, MimeType: "image/jpeg", Converted: true}, nil
}

func convertedPath(path string) string {
	ext := Ext(path)
	if heicExts[ext] || rasterExts[ext] {
		return ReplaceExt(path, "jpg")
	}
	return path + ".jpg"
}

func (c *Converter) convertHEIC(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to convert HEIC image: %w", err)
	}
	defer f.Close()

	img, err := heic.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to convert HEIC image: %w", err)
	}
	return c.save(img, convertedPath(path))
}

func (c *Converter) convertRaster(path string) error {
	img, err := decode(path)
	if err != nil {
		return fmt.Errorf("failed to convert image: %w", err)
	}
	return c.save(img, convertedPath(path))
}

func (c *Converter) save(img image.Image, out string) error {
	if limit := c.cfg.MaxDimension; limit > 0 {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		}
	}
	if err := imaging.Save(img, out, imaging.JPEGQuality(c.cfg.JPEGQuality)); err != nil {
		// The request only tracks the output after success.
		os.Remove(out)
		return fmt.Errorf("write converted image: %w", err)
	}
	return nil
}

// decode tries the registered decoders first and falls back to libwebp.
func decode(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}
