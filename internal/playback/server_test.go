package playback

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func setupVideo(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "run-1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "pythagorean_theorem.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(root, logger), path
}

func TestServeVideo_Full(t *testing.T) {
	s, path := setupVideo(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/video", nil)

	if err := s.ServeVideo(rr, req, path); err != nil {
		t.Fatalf("ServeVideo() error = %v", err)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "0123456789" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Error("Accept-Ranges missing")
	}
}

func TestServeVideo_Range(t *testing.T) {
	s, path := setupVideo(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/video", nil)
	req.Header.Set("Range", "bytes=2-5")

	if err := s.ServeVideo(rr, req, path); err != nil {
		t.Fatal(err)
	}
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeVideo_Unsatisfiable(t *testing.T) {
	s, path := setupVideo(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/video", nil)
	req.Header.Set("Range", "bytes=50-")

	s.ServeVideo(rr, req, path)
	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeVideo_MalformedRangeServesWholeFile(t *testing.T) {
	s, path := setupVideo(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/video", nil)
	req.Header.Set("Range", "pages=1-2")

	s.ServeVideo(rr, req, path)
	if rr.Code != http.StatusOK || rr.Body.Len() != 10 {
		t.Errorf("status = %d, body len = %d", rr.Code, rr.Body.Len())
	}
}

func TestServeVideo_HeadHasNoBody(t *testing.T) {
	s, path := setupVideo(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/runs/run-1/video", nil)

	s.ServeVideo(rr, req, path)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD body length = %d", rr.Body.Len())
	}
	if rr.Header().Get("Content-Length") != "10" {
		t.Errorf("Content-Length = %q", rr.Header().Get("Content-Length"))
	}
}

func TestServeVideo_Missing(t *testing.T) {
	s, path := setupVideo(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/video", nil)

	if err := s.ServeVideo(rr, req, path+".gone"); err != nil {
		t.Fatalf("ServeVideo() error = %v", err)
	}
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestServeVideo_OutsideRoot(t *testing.T) {
	s, _ := setupVideo(t)
	outside := filepath.Join(t.TempDir(), "secret.mp4")
	os.WriteFile(outside, []byte("x"), 0644)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := s.ServeVideo(rr, req, outside); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("ServeVideo() error = %v, want ErrOutsideRoot", err)
	}
}
