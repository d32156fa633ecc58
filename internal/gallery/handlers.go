package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/tmaxmax/go-sse"

	"github.com/kratadata/quartier-atlas/internal/artifacts"
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/pipeline"
	"github.com/kratadata/quartier-atlas/internal/placements"
)

// maxJSONBody bounds placement documents and delete requests.
const maxJSONBody = 8 << 20

// multipartSlack covers form boundaries and headers around the file.
const multipartSlack = 64 << 10

// Runner starts a pipeline run.
type Runner interface {
	Run(ctx context.Context, req *pipeline.Request) <-chan pipeline.Event
}

// Locator answers district lookups.
type Locator interface {
	EnsureLoaded(ctx context.Context) error
	Resolve(lat, lon float64) districts.District
	Fallback() districts.District
}

// Handlers serves the gallery API.
type Handlers struct {
	Runner         Runner
	Placements     placements.Store
	Artifacts      artifacts.Store
	Locator        Locator
	UploadDir      string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

var errNoFile = errors.New("no image file provided")

// Generate accepts a multipart upload in field "image" and streams the run
// as server-sent events.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartSlack)

	req, err := h.receive(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, errTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		case errors.Is(err, errNoFile):
			writeError(w, http.StatusBadRequest, "No image file provided")
		default:
			h.Logger.Error("could not store upload", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to store upload")
		}
		return
	}

	w.Header().Set("X-Accel-Buffering", "no")
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		os.Remove(req.Path)
		h.Logger.Error("cannot stream response", "error", err)
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	// Commit the stream headers before the first, possibly slow, stage.
	_ = sess.Flush()

	h.Logger.Info("generation started", "request", req.ID, "filename", req.Filename)
	for ev := range h.Runner.Run(r.Context(), req) {
		payload, err := json.Marshal(message(ev))
		if err != nil {
			h.Logger.Error("encode event", "error", err)
			continue
		}
		msg := &sse.Message{}
		msg.AppendData(string(payload))
		// A failed write means the client went away; the request context
		// cancels the run and the loop drains.
		if err := sess.Send(msg); err != nil {
			continue
		}
		_ = sess.Flush()
	}
}

var errTooLarge = errors.New("upload exceeds size limit")

// receive stores the first file in field "image".
func (h *Handlers) receive(r *http.Request) (*pipeline.Request, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFile
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, errNoFile
		}
		if part.FormName() != "image" || part.FileName() == "" {
			part.Close()
			continue
		}

		req, err := pipeline.Receive(h.UploadDir, io.LimitReader(part, h.MaxUploadBytes+1), part.FileName())
		part.Close()
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(req.Path)
		if err != nil || info.Size() > h.MaxUploadBytes || info.Size() == 0 {
			os.Remove(req.Path)
			if err == nil && info.Size() == 0 {
				return nil, errNoFile
			}
			return nil, errTooLarge
		}
		return req, nil
	}
}

// GetPositions returns the placement document.
func (h *Handlers) GetPositions(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Placements.Load(r.Context())
	if err != nil {
		h.Logger.Error("load positions", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load positions")
		return
	}
	writeJSON(w, doc)
}

// SavePositions replaces the placement document.
func (h *Handlers) SavePositions(w http.ResponseWriter, r *http.Request) {
	var doc placements.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid positions document")
		return
	}

	if err := h.Placements.Replace(r.Context(), doc); err != nil {
		h.Logger.Error("save positions", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save positions")
		return
	}
	h.Logger.Info("positions saved", "images", len(doc.Images))
	writeJSON(w, map[string]bool{"success": true})
}

// DeleteImage removes an artifact and its placement.
func (h *Handlers) DeleteImage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "No image URL provided")
		return
	}

	if err := h.Artifacts.Delete(r.Context(), body.ImageURL); err != nil {
		h.Logger.Error("delete artifact", "url", body.ImageURL, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete image")
		return
	}

	removed, err := h.Placements.Remove(r.Context(), body.ImageURL)
	if err != nil {
		h.Logger.Error("remove placement", "url", body.ImageURL, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete image")
		return
	}
	h.Logger.Info("image deleted", "url", body.ImageURL, "placements_removed", removed)
	writeJSON(w, map[string]bool{"success": true})
}

// ListDistricts returns the fixed id/name table.
func (h *Handlers) ListDistricts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, districts.TableWithOutside(h.Locator.Fallback().Name))
}

// ResolveDistrict answers ?lat=&lon= with the containing district.
func (h *Handlers) ResolveDistrict(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, http.StatusBadRequest, "lat and lon must be numbers")
		return
	}

	if err := h.Locator.EnsureLoaded(r.Context()); err != nil {
		h.Logger.Warn("district dataset unavailable", "error", err)
	}
	writeJSON(w, quartierOf(h.Locator.Resolve(lat, lon)))
}
