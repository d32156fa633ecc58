package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilename(t *testing.T) {
	ts := time.Date(2025, time.March, 7, 9, 4, 5, 0, time.UTC)
	if got := Filename(ts); got != "generated-25-03-07-09-04-05.png" {
		t.Errorf("Filename = %q", got)
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"https://pub.r2.dev/generated-1.png":     "generated-1.png",
		"https://pub.r2.dev/generated-1.png?v=2": "generated-1.png",
		"/gen-images/a.png":                      "a.png",
		"a.png":                                  "a.png",
	}
	for in, want := range tests {
		if got := baseName(in); got != want {
			t.Errorf("baseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalStorePutDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gen-images")
	l, err := NewLocalStore(dir, "gen-images")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	url, err := l.Put(ctx, "generated-x.png", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "/gen-images/generated-x.png" {
		t.Errorf("url = %q", url)
	}
	if !l.Owns(url) {
		t.Error("store should own its URL")
	}
	if l.Owns("https://pub.r2.dev/generated-x.png") {
		t.Error("store should not own remote URLs")
	}

	if err := l.Delete(ctx, url); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "generated-x.png")); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
	if err := l.Delete(ctx, url); err != nil {
		t.Errorf("deleting a missing file should succeed, got %v", err)
	}
}

func TestLocalStoreDeleteFromRoot(t *testing.T) {
	base := t.TempDir()
	public := filepath.Join(base, "public")
	os.MkdirAll(filepath.Join(public, "old"), 0o755)
	legacy := filepath.Join(public, "old", "legacy.png")
	os.WriteFile(legacy, []byte("x"), 0o644)

	l, err := NewLocalStore(filepath.Join(base, "gen"), "/gen-images", public)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(context.Background(), "/old/legacy.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("legacy file should be removed")
	}
}

func TestLocalStoreDeleteKeepsDirectories(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "gen-images")
	public := filepath.Join(base, "public")
	os.MkdirAll(filepath.Join(public, "gen-images", "sub"), 0o755)

	l, err := NewLocalStore(dir, "/gen-images", public)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, url := range []string{"/gen-images/", "", "/", "/gen-images/sub"} {
		if err := l.Delete(ctx, url); err != nil {
			t.Errorf("Delete(%q) = %v", url, err)
		}
	}
	for _, d := range []string{dir, public, filepath.Join(public, "gen-images", "sub")} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("directory %s removed: %v", d, err)
		}
	}
}

type fakeStore struct {
	prefix  string
	puts    []string
	deleted []string
	err     error
}

func (f *fakeStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	f.puts = append(f.puts, name)
	return f.prefix + name, f.err
}

func (f *fakeStore) Delete(ctx context.Context, url string) error {
	f.deleted = append(f.deleted, url)
	return f.err
}

func (f *fakeStore) Owns(url string) bool {
	return len(url) >= len(f.prefix) && url[:len(f.prefix)] == f.prefix
}

func TestMultiRouting(t *testing.T) {
	remote := &fakeStore{prefix: "https://pub.r2.dev/"}
	local := &fakeStore{prefix: "/gen-images/"}
	m := Multi{remote, local}
	ctx := context.Background()

	url, err := m.Put(ctx, "a.png", nil, "image/png")
	if err != nil || url != "https://pub.r2.dev/a.png" {
		t.Fatalf("Put = %q, %v", url, err)
	}
	if len(local.puts) != 0 {
		t.Error("only the first store receives writes")
	}

	m.Delete(ctx, "https://pub.r2.dev/a.png")
	m.Delete(ctx, "/gen-images/b.png")
	m.Delete(ctx, "/elsewhere/c.png")

	if len(remote.deleted) != 1 || remote.deleted[0] != "https://pub.r2.dev/a.png" {
		t.Errorf("remote deletes = %v", remote.deleted)
	}
	if len(local.deleted) != 2 || local.deleted[1] != "/elsewhere/c.png" {
		t.Errorf("local deletes = %v", local.deleted)
	}
}

func TestMultiLeavesUnownedRemoteURLs(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocalStore(dir, "/gen-images")
	if err != nil {
		t.Fatal(err)
	}
	kept := filepath.Join(dir, "generated-x.png")
	os.WriteFile(kept, []byte("png"), 0o644)

	m := Multi{l}
	for _, url := range []string{"https://pub.r2.dev/generated-x.png", "//cdn.example.org/generated-x.png"} {
		if err := m.Delete(context.Background(), url); err != nil {
			t.Errorf("Delete(%q) = %v", url, err)
		}
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("local file with the same name was removed: %v", err)
	}
}

func TestMultiEmpty(t *testing.T) {
	if _, err := (Multi{}).Put(context.Background(), "a", nil, ""); err == nil {
		t.Error("Put on empty Multi should fail")
	}
	if err := (Multi{}).Delete(context.Background(), "a"); err != nil {
		t.Errorf("Delete on empty Multi = %v", err)
	}
}

func TestMultiPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{&fakeStore{prefix: "x/", err: boom}}
	if err := m.Delete(context.Background(), "x/a"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestR2Owns(t *testing.T) {
	r, err := NewR2Store(R2Config{AccountID: "acct", AccessKeyID: "k", SecretAccessKey: "s", Bucket: "b", PublicURL: "https://img.example.org/"})
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{
		"https://img.example.org/a.png",
		"https://pub-123.r2.dev/a.png",
		"https://acct.r2.cloudflarestorage.com/b/a.png",
	} {
		if !r.Owns(u) {
			t.Errorf("should own %q", u)
		}
	}
	if r.Owns("/gen-images/a.png") {
		t.Error("should not own local URL")
	}
}

func TestNewR2StoreValidates(t *testing.T) {
	if _, err := NewR2Store(R2Config{Bucket: "b"}); err == nil {
		t.Error("missing credentials should fail")
	}
	if _, err := NewR2Store(R2Config{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"}); err == nil {
		t.Error("missing account should fail")
	}
}
