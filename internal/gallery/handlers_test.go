package gallery_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"golang.org/x/crypto/bcrypt"

	"github.com/kratadata/quartier-atlas/internal/artifacts"
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/gallery"
	"github.com/kratadata/quartier-atlas/internal/geo"
	"github.com/kratadata/quartier-atlas/internal/pipeline"
	"github.com/kratadata/quartier-atlas/internal/placements"
)

// scriptedRunner replays fixed events instead of running a pipeline.
type scriptedRunner struct {
	events   []pipeline.Event
	received *pipeline.Request
}

func (s *scriptedRunner) Run(ctx context.Context, req *pipeline.Request) <-chan pipeline.Event {
	s.received = req
	ch := make(chan pipeline.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type env struct {
	server    *httptest.Server
	runner    *scriptedRunner
	store     placements.Store
	localDir  string
	uploadDir string
}

func newEnv(t *testing.T, opts gallery.RouteOptions) *env {
	t.Helper()
	base := t.TempDir()

	local, err := artifacts.NewLocalStore(filepath.Join(base, "gen-images"), "/gen-images")
	if err != nil {
		t.Fatal(err)
	}
	box := orb.MultiPolygon{{{{7.58, 47.55}, {7.60, 47.55}, {7.60, 47.57}, {7.58, 47.57}, {7.58, 47.55}}}}
	catalog := districts.NewStaticCatalog([]districts.District{{ID: 6, Boundary: box}})

	e := &env{
		runner:    &scriptedRunner{},
		store:     placements.NewFileStore(filepath.Join(base, "image-positions.json")),
		localDir:  local.Dir,
		uploadDir: filepath.Join(base, "uploads"),
	}
	h := &gallery.Handlers{
		Runner:         e.runner,
		Placements:     e.store,
		Artifacts:      local,
		Locator:        districts.NewResolver(catalog, "Ausserhalb Basel", nil),
		UploadDir:      e.uploadDir,
		MaxUploadBytes: 1024,
	}
	e.server = httptest.NewServer(gallery.SetupRoutes(h, opts))
	t.Cleanup(e.server.Close)
	return e
}

func upload(t *testing.T, url, field, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "hello")
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()

	resp, err := http.Post(url+"/generate", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestGenerate_NoFile(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	resp := upload(t, e.server.URL, "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "No image file provided" {
		t.Errorf("error = %q", msg)
	}
}

func TestGenerate_NotMultipart(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	resp, err := http.Post(e.server.URL+"/generate", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerate_TooLarge(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	resp := upload(t, e.server.URL, "image", "big.jpg", bytes.Repeat([]byte("x"), 2048))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	if entries, _ := os.ReadDir(e.uploadDir); len(entries) != 0 {
		t.Errorf("oversized upload left behind: %v", entries)
	}
}

func readEvents(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw := new(bytes.Buffer)
	raw.ReadFrom(resp.Body)

	var events []map[string]any
	for _, chunk := range strings.Split(raw.String(), "\n\n") {
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "data:") {
			t.Fatalf("malformed event %q", chunk)
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data:")), &ev); err != nil {
			t.Fatalf("event is not JSON: %q", chunk)
		}
		events = append(events, ev)
	}
	return events
}

func TestGenerate_StreamsEvents(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	e.runner.events = []pipeline.Event{
		{Kind: pipeline.EventProgress, Percent: 5, Message: "Processing image..."},
		{Kind: pipeline.EventProgress, Percent: 30, Message: "Detected: cup"},
		{Kind: pipeline.EventResult, Percent: 100, Result: &pipeline.Result{
			ImageURL: "https://pub.r2.dev/generated-25-01-01-00-00-00.png",
			Label:    "cup",
			District: districts.Outside("Ausserhalb Basel"),
		}},
	}

	resp := upload(t, e.server.URL, "image", "cup.png", []byte("png bytes"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	events := readEvents(t, resp)
	if len(events) != 3 {
		t.Fatalf("events = %v", events)
	}
	if events[0]["type"] != "progress" || events[0]["progress"] != float64(5) || events[0]["message"] != "Processing image..." {
		t.Errorf("first = %v", events[0])
	}

	res := events[2]
	if res["type"] != "result" || res["detectedObject"] != "cup" || res["imageUrl"] != "https://pub.r2.dev/generated-25-01-01-00-00-00.png" {
		t.Errorf("result = %v", res)
	}
	gps, present := res["gps"]
	if !present || gps != nil {
		t.Errorf("gps should be present and null, got %v (present=%v)", gps, present)
	}
	q := res["quartier"].(map[string]any)
	if q["nummer"] != float64(20) || q["name"] != "Ausserhalb Basel" || q["label"] != "Ausserhalb Basel" {
		t.Errorf("quartier = %v", q)
	}

	if e.runner.received == nil || e.runner.received.Filename != "cup.png" {
		t.Fatalf("runner got %+v", e.runner.received)
	}
	data, _ := os.ReadFile(e.runner.received.Path)
	if string(data) != "png bytes" {
		t.Errorf("stored upload = %q", data)
	}
}

func TestGenerate_ErrorEventAndGPS(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	e.runner.events = []pipeline.Event{
		{Kind: pipeline.EventError, Message: `"cup" too complex, please retry.`},
	}
	events := readEvents(t, upload(t, e.server.URL, "image", "cup.jpg", []byte("x")))
	if len(events) != 1 || events[0]["type"] != "error" || events[0]["message"] != `"cup" too complex, please retry.` {
		t.Errorf("events = %v", events)
	}

	e.runner.events = []pipeline.Event{{Kind: pipeline.EventResult, Result: &pipeline.Result{
		Label:    "tree",
		District: districts.District{ID: 6, Name: "Gundeldingen"},
		GPS:      &geo.GeoPoint{Lat: 47.54, Lon: 7.59},
	}}}
	events = readEvents(t, upload(t, e.server.URL, "image", "tree.jpg", []byte("x")))
	gps := events[0]["gps"].(map[string]any)
	if gps["lat"] != 47.54 || gps["lon"] != 7.59 {
		t.Errorf("gps = %v", gps)
	}
	if q := events[0]["quartier"].(map[string]any); q["label"] != "Gundeldingen" {
		t.Errorf("label should fall back to name, got %v", q)
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, auth ...string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestPositions_RoundTrip(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})

	var empty map[string]any
	if code := getJSON(t, e.server.URL+"/positions", &empty); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if imgs, ok := empty["images"].([]any); !ok || len(imgs) != 0 {
		t.Fatalf("expected empty images list, got %v", empty)
	}

	doc := `{"images":[{"imageUrl":"/gen-images/a.png","caption":"cup","quartierId":6,"x":12.5,"y":-3,"scale":1.5,"zIndex":1001,"gps":{"lat":47.5,"lon":7.6}}]}`
	resp := postJSON(t, e.server.URL+"/positions", doc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d", resp.StatusCode)
	}
	var ok map[string]bool
	json.NewDecoder(resp.Body).Decode(&ok)
	resp.Body.Close()
	if !ok["success"] {
		t.Errorf("save response = %v", ok)
	}

	var got placements.Document
	getJSON(t, e.server.URL+"/positions", &got)
	if len(got.Images) != 1 || got.Images[0].X != 12.5 || got.Images[0].ZIndex != 1001 || got.Images[0].GPS == nil {
		t.Errorf("got %+v", got)
	}
}

func TestPositions_InvalidBody(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	resp := postJSON(t, e.server.URL+"/positions", "{broken")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteImage(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	ctx := context.Background()

	os.WriteFile(filepath.Join(e.localDir, "generated-a.png"), []byte("png"), 0o644)
	e.store.Replace(ctx, placements.Document{Images: []placements.PlacedArtifact{
		{ImageURL: "/gen-images/generated-a.png", QuartierID: 1},
		{ImageURL: "/gen-images/generated-b.png", QuartierID: 2},
	}})

	resp := postJSON(t, e.server.URL+"/delete-image", `{"imageUrl":"/gen-images/generated-a.png"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if _, err := os.Stat(filepath.Join(e.localDir, "generated-a.png")); !os.IsNotExist(err) {
		t.Error("file should be deleted")
	}
	doc, _ := e.store.Load(ctx)
	if len(doc.Images) != 1 || doc.Images[0].ImageURL != "/gen-images/generated-b.png" {
		t.Errorf("placements = %+v", doc.Images)
	}

	resp = postJSON(t, e.server.URL+"/delete-image", `{"imageUrl":"/gen-images/never-existed.png"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("missing file should still succeed, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteImage_MalformedBody(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	resp := postJSON(t, e.server.URL+"/delete-image", `{"imageUrl":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "Invalid request body" {
		t.Errorf("error = %q", msg)
	}
}

func TestDeleteImage_MissingURL(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})
	resp := postJSON(t, e.server.URL+"/delete-image", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "No image URL provided" {
		t.Errorf("error = %q", msg)
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("wall"), bcrypt.MinCost)
	e := newEnv(t, gallery.RouteOptions{AdminPasswordHash: string(hash)})

	resp := postJSON(t, e.server.URL+"/positions", `{"images":[]}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated save = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, e.server.URL+"/positions", `{"images":[]}`, "admin", "wall")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated save = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if code := getJSON(t, e.server.URL+"/positions", nil); code != http.StatusOK {
		t.Errorf("reads stay open, got %d", code)
	}
}

func TestDistricts(t *testing.T) {
	e := newEnv(t, gallery.RouteOptions{})

	var table []districts.Entry
	getJSON(t, e.server.URL+"/districts", &table)
	if len(table) != 20 || table[19].ID != 20 || table[19].Name != "Ausserhalb Basel" || table[0].Name != "Altstadt Grossbasel" {
		t.Errorf("table = %+v", table)
	}

	var q gallery.Quartier
	getJSON(t, e.server.URL+"/districts/resolve?lat=47.56&lon=7.59", &q)
	if q.Nummer != 6 || q.Name != "Gundeldingen" {
		t.Errorf("inside = %+v", q)
	}
	getJSON(t, e.server.URL+"/districts/resolve?lat=47.0&lon=7.0", &q)
	if q.Nummer != 20 {
		t.Errorf("outside = %+v", q)
	}
	if code := getJSON(t, e.server.URL+"/districts/resolve?lat=north", nil); code != http.StatusBadRequest {
		t.Errorf("invalid coordinates = %d", code)
	}
}
