// Package pipeline runs one upload from raw photo to a stored, placed
// artifact and reports progress as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kratadata/quartier-atlas/internal/artifacts"
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/generator"
	"github.com/kratadata/quartier-atlas/internal/geo"
	"github.com/kratadata/quartier-atlas/internal/labeler"
	"github.com/kratadata/quartier-atlas/internal/photo"
	"github.com/kratadata/quartier-atlas/internal/placements"
)

// ErrNoResult is returned when the generation stream ends without a result.
var ErrNoResult = errors.New("generation finished without a result")

// DefaultErrorTemplate is shown when the generator rejects a run.
const DefaultErrorTemplate = `"%s" too complex, please retry.`

// Locator resolves coordinates to districts.
type Locator interface {
	EnsureLoaded(ctx context.Context) error
	Resolve(lat, lon float64) districts.District
	Fallback() districts.District
}

// Recorder persists the default placement of a finished artifact.
type Recorder interface {
	Append(ctx context.Context, a placements.PlacedArtifact) error
}

// Announcer tells other parties about a finished artifact.
type Announcer interface {
	Announce(ctx context.Context, r Result) error
}

// Config holds process-wide settings.
type Config struct {
	Style         generator.Style
	ErrorTemplate string
	Now           func() time.Time
}

// Deps are the collaborators of a Pipeline. GPS, Labeler, Downloader,
// Recorder and Announcer are optional.
type Deps struct {
	Normalizer photo.Normalizer
	GPS        photo.GPSReader
	Locator    Locator
	Labeler    labeler.Labeler
	Generator  generator.Generator
	Store      artifacts.Store
	Downloader Downloader
	Recorder   Recorder
	Announcer  Announcer
	Logger     *slog.Logger
}

// Pipeline is safe for concurrent use; each Run owns its Request.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Locator == nil:
		return nil, errors.New("pipeline: locator is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: artifact store is required")
	}

	if cfg.ErrorTemplate == "" {
		cfg.ErrorTemplate = DefaultErrorTemplate
	}
	if cfg.Style == (generator.Style{}) {
		cfg.Style = generator.DefaultStyle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Downloader == nil {
		deps.Downloader = NewHTTPDownloader()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Pipeline{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// generationError carries the collaborator's detail for the log and a
// friendly message for the client.
type generationError struct {
	message string
	detail  string
}

func (e *generationError) Error() string { return e.message }

// Run processes req in its own goroutine. The channel yields progress events
// followed by exactly one result or error event, then closes. When ctx is
// canceled the run stops, emits nothing further and persists nothing.
// Working files are removed on every path.
func (p *Pipeline) Run(ctx context.Context, req *Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		p.run(ctx, req, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, req *Request, out chan<- Event) {
	log := p.log.With("request", req.ID)
	em := &emitter{ctx: ctx, out: out}

	defer req.cleanup(log)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r, "stage", req.Stage())
			p.fail(log, em, req, fmt.Errorf("internal error: %v", r))
		}
	}()

	start := time.Now()
	res, err := p.execute(ctx, req, em, log)
	if err != nil {
		p.fail(log, em, req, err)
		return
	}

	if err := em.send(Event{Kind: EventResult, Percent: 100, Result: &res}); err != nil {
		log.Info("request canceled before delivery", "error", err)
		p.discard(ctx, res.ImageURL, log)
		return
	}
	log.Info("generation done", "url", res.ImageURL, "label", res.Label, "district", res.District.ID, "duration", time.Since(start))

	// Only delivered results are recorded and announced.
	p.publish(context.WithoutCancel(ctx), res, log)
}

func (p *Pipeline) fail(log *slog.Logger, em *emitter, req *Request, err error) {
	if terr := req.advance(StageFailed); terr != nil {
		log.Error("cannot mark request failed", "error", terr)
	}
	if em.ctx.Err() != nil {
		log.Info("request canceled", "stage", req.Stage(), "error", err)
		return
	}

	var gerr *generationError
	if errors.As(err, &gerr) {
		log.Error("generation rejected", "detail", gerr.detail)
	} else {
		log.Error("generation failed", "error", err)
	}
	em.send(Event{Kind: EventError, Message: err.Error()})
}

func (p *Pipeline) enter(req *Request, to Stage, log *slog.Logger) error {
	if err := req.advance(to); err != nil {
		return err
	}
	log.Debug("stage", "stage", to)
	return nil
}

func (p *Pipeline) execute(ctx context.Context, req *Request, em *emitter, log *slog.Logger) (Result, error) {
	if err := p.enter(req, StageNormalizing, log); err != nil {
		return Result{}, err
	}
	if err := em.progress(5, "Processing image..."); err != nil {
		return Result{}, err
	}

	// Conversion may strip metadata, so read it from the original first.
	req.GPS = p.readGPS(ctx, req, log)

	norm, err := p.deps.Normalizer.Normalize(ctx, req.Path, req.Filename)
	if err != nil {
		return Result{}, err
	}
	req.track(norm.Path)
	req.Path, req.Filename = norm.Path, norm.Filename

	if err := p.enter(req, StageLocatingDistrict, log); err != nil {
		return Result{}, err
	}
	req.District = p.locate(ctx, req.GPS, log)

	if err := p.enter(req, StageLabeling, log); err != nil {
		return Result{}, err
	}
	if err := em.progress(10, "Analyzing image..."); err != nil {
		return Result{}, err
	}
	img, err := os.ReadFile(req.Path)
	if err != nil {
		return Result{}, fmt.Errorf("read image: %w", err)
	}
	req.Label = labeler.Detect(ctx, p.deps.Labeler, img, norm.MimeType, log)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log.Info("object detected", "label", req.Label)
	if err := em.progress(30, "Detected: "+req.Label); err != nil {
		return Result{}, err
	}

	if err := p.enter(req, StageUploading, log); err != nil {
		return Result{}, err
	}
	if err := em.progress(40, "Uploading image..."); err != nil {
		return Result{}, err
	}
	sourceURL, err := p.deps.Generator.Upload(ctx, img, req.Filename, norm.MimeType)
	if err != nil {
		return Result{}, fmt.Errorf("upload image: %w", err)
	}

	if err := p.enter(req, StageGenerating, log); err != nil {
		return Result{}, err
	}
	if err := em.progress(60, "Starting generation..."); err != nil {
		return Result{}, err
	}
	imageURL, err := p.generate(ctx, req, sourceURL, em)
	if err != nil {
		return Result{}, err
	}

	if err := p.enter(req, StageFinalizing, log); err != nil {
		return Result{}, err
	}
	data, err := p.deps.Downloader.Download(ctx, imageURL)
	if err != nil {
		return Result{}, fmt.Errorf("download generated image: %w", err)
	}
	if err := em.progress(95, "Uploading to storage..."); err != nil {
		return Result{}, err
	}
	storedURL, err := p.deps.Store.Put(ctx, artifacts.Filename(p.cfg.Now()), data, "image/png")
	if err != nil {
		return Result{}, fmt.Errorf("store artifact: %w", err)
	}
	if err := ctx.Err(); err != nil {
		p.discard(ctx, storedURL, log)
		return Result{}, err
	}

	if err := p.enter(req, StageDone, log); err != nil {
		return Result{}, err
	}
	return Result{ImageURL: storedURL, Label: req.Label, District: req.District, GPS: req.GPS}, nil
}

func (p *Pipeline) readGPS(ctx context.Context, req *Request, log *slog.Logger) *geo.GeoPoint {
	if p.deps.GPS == nil {
		return nil
	}
	pt, err := p.deps.GPS.ReadGPS(ctx, req.Path)
	if err != nil {
		log.Warn("could not read location metadata", "error", err)
		return nil
	}
	return pt
}

func (p *Pipeline) locate(ctx context.Context, gps *geo.GeoPoint, log *slog.Logger) districts.District {
	if gps == nil {
		log.Info("no gps data, using fallback district")
		return p.deps.Locator.Fallback()
	}
	if err := p.deps.Locator.EnsureLoaded(ctx); err != nil {
		log.Warn("district dataset unavailable", "error", err)
	}
	d := p.deps.Locator.Resolve(gps.Lat, gps.Lon)
	log.Info("district resolved", "id", d.ID, "name", d.Name, "lat", gps.Lat, "lon", gps.Lon)
	return d
}

// generate consumes the generator stream and returns the output image URL.
func (p *Pipeline) generate(ctx context.Context, req *Request, sourceURL string, em *emitter) (string, error) {
	in := p.cfg.Style.InputFor(req.Label, sourceURL)
	events, err := p.deps.Generator.Stream(ctx, in)
	if err != nil {
		return "", fmt.Errorf("start generation: %w", err)
	}
	defer drain(events)

	for ev := range events {
		switch ev.Kind {
		case generator.EventProgress:
			msg := ev.Message
			if msg == "" {
				msg = "Generating image..."
			}
			if err := em.progress(generationPercent(em.percent, ev.Percent), msg); err != nil {
				return "", err
			}
		case generator.EventError:
			return "", &generationError{
				message: fmt.Sprintf(p.cfg.ErrorTemplate, req.Label),
				detail:  ev.Detail,
			}
		case generator.EventDone:
			return generator.ExtractImageURL(ev.Result)
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNoResult
}

// drain lets the generator finish sending after we stop listening.
func drain(events <-chan generator.Event) {
	go func() {
		for range events {
		}
	}()
}

// generationPercent maps a collaborator event onto the 60..90 band. Events
// without an estimate step by ten.
func generationPercent(current, reported int) int {
	var next int
	if reported >= 0 {
		next = max(current, 60+min(reported, 100)*30/100)
	} else {
		next = current + 10
	}
	return min(next, 90)
}

// discard removes an artifact stored for a request that was canceled.
func (p *Pipeline) discard(ctx context.Context, url string, log *slog.Logger) {
	if err := p.deps.Store.Delete(context.WithoutCancel(ctx), url); err != nil {
		log.Warn("could not remove undelivered artifact", "url", url, "error", err)
	}
}

// publish records and announces a finished artifact. Failures are logged
// only; the artifact already exists.
func (p *Pipeline) publish(ctx context.Context, res Result, log *slog.Logger) {
	if p.deps.Recorder != nil {
		rec := placements.Default(res.ImageURL, res.Label, res.District.ID, res.GPS)
		if err := p.deps.Recorder.Append(ctx, rec); err != nil {
			log.Warn("could not record placement", "error", err)
		}
	}
	if p.deps.Announcer != nil {
		if err := p.deps.Announcer.Announce(ctx, res); err != nil {
			log.Warn("could not announce artifact", "error", err)
		}
	}
}
