package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"mediaserve/internal/byterange"
	"mediaserve/pkg/types"
)

// pattern returns n bytes where byte i is i%251, so offsets are recognisable.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fileResource(t *testing.T, path string) types.Resource {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	return types.Resource{
		AbsPath: path,
		URLPath: "/" + filepath.Base(path),
		Kind:    types.File,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func mustParse(t *testing.T, header string) *byterange.Range {
	t.Helper()
	r, err := byterange.Parse(header)
	if err != nil {
		t.Fatalf("Parse(%q): %v", header, err)
	}
	return r
}

// countingOpener wraps os.Open and counts calls
type countingOpener struct {
	calls int
}

func (o *countingOpener) open(name string) (io.ReadSeekCloser, error) {
	o.calls++
	return os.Open(name)
}

func TestContentResponder_Respond(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	data := pattern(1000)
	writeFile(t, path, data)
	modTime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
	res := fileResource(t, path)

	tests := []struct {
		name         string
		header       string
		wantStatus   int
		wantRange    string
		wantLength   string
		wantBody     []byte
		wantAccept   bool
		wantWritten  int64
		wantDelivery [2]int64
	}{
		{
			name:         "full content",
			header:       "",
			wantStatus:   http.StatusOK,
			wantLength:   "1000",
			wantBody:     data,
			wantWritten:  1000,
			wantDelivery: [2]int64{0, 1000},
		},
		{
			name:         "closed range",
			header:       "bytes=100-199",
			wantStatus:   http.StatusPartialContent,
			wantRange:    "bytes 100-199/1000",
			wantLength:   "100",
			wantBody:     data[100:200],
			wantAccept:   true,
			wantWritten:  100,
			wantDelivery: [2]int64{100, 200},
		},
		{
			name:         "clamped end",
			header:       "bytes=900-2000",
			wantStatus:   http.StatusPartialContent,
			wantRange:    "bytes 900-999/1000",
			wantLength:   "100",
			wantBody:     data[900:],
			wantAccept:   true,
			wantWritten:  100,
			wantDelivery: [2]int64{900, 1000},
		},
		{
			name:         "open end",
			header:       "bytes=990-",
			wantStatus:   http.StatusPartialContent,
			wantRange:    "bytes 990-999/1000",
			wantLength:   "10",
			wantBody:     data[990:],
			wantAccept:   true,
			wantWritten:  10,
			wantDelivery: [2]int64{990, 1000},
		},
		{
			name:         "suffix",
			header:       "bytes=-5",
			wantStatus:   http.StatusPartialContent,
			wantRange:    "bytes 995-999/1000",
			wantLength:   "5",
			wantBody:     data[995:],
			wantAccept:   true,
			wantWritten:  5,
			wantDelivery: [2]int64{995, 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responder := NewContentResponder(64)
			w := httptest.NewRecorder()

			d, err := responder.Respond(w, res, mustParse(t, tt.header), true)
			if err != nil {
				t.Fatalf("Respond error = %v", err)
			}

			if w.Code != tt.wantStatus || d.Status != tt.wantStatus {
				t.Errorf("Expected status %d, got recorder %d delivery %d", tt.wantStatus, w.Code, d.Status)
			}
			if got := w.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Expected Content-Range %q, got %q", tt.wantRange, got)
			}
			if got := w.Header().Get("Content-Length"); got != tt.wantLength {
				t.Errorf("Expected Content-Length %q, got %q", tt.wantLength, got)
			}
			if got := w.Header().Get("Accept-Ranges") == "bytes"; got != tt.wantAccept {
				t.Errorf("Expected Accept-Ranges present = %v", tt.wantAccept)
			}
			if got := w.Header().Get("Content-Type"); got != "video/mp4" {
				t.Errorf("Expected Content-Type video/mp4, got %q", got)
			}
			if got := w.Header().Get("Last-Modified"); got != "Tue, 02 Jan 2024 03:04:05 GMT" {
				t.Errorf("Unexpected Last-Modified %q", got)
			}
			if !bytes.Equal(w.Body.Bytes(), tt.wantBody) {
				t.Errorf("Body mismatch: got %d bytes, want %d", w.Body.Len(), len(tt.wantBody))
			}
			if d.Written != tt.wantWritten || d.Start != tt.wantDelivery[0] || d.End != tt.wantDelivery[1] || d.Size != 1000 {
				t.Errorf("Unexpected delivery %+v", d)
			}
		})
	}
}

func TestContentResponder_UnsatisfiableDoesNotOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	writeFile(t, path, pattern(1000))
	res := fileResource(t, path)

	opener := &countingOpener{}
	responder := NewContentResponder(64)
	responder.open = opener.open

	for _, header := range []string{"bytes=1000-", "bytes=1000-1000", "bytes=5000-6000", "bytes=-0"} {
		w := httptest.NewRecorder()
		d, err := responder.Respond(w, res, mustParse(t, header), true)
		if !errors.Is(err, ErrRangeNotSatisfiable) {
			t.Errorf("%s: expected ErrRangeNotSatisfiable, got %v", header, err)
		}
		if d.Status != 0 {
			t.Errorf("%s: expected no committed status, got %d", header, d.Status)
		}
		if statusFor(err) != http.StatusRequestedRangeNotSatisfiable {
			t.Errorf("%s: expected 416 mapping, got %d", header, statusFor(err))
		}
		if len(w.Header()) != 0 || w.Body.Len() != 0 {
			t.Errorf("%s: expected nothing written, got headers %v", header, w.Header())
		}
	}

	if opener.calls != 0 {
		t.Errorf("Expected file never opened, got %d opens", opener.calls)
	}
}

func TestContentResponder_NotFound(t *testing.T) {
	dir := t.TempDir()
	responder := NewContentResponder(64)

	missing := types.Resource{AbsPath: filepath.Join(dir, "gone.mp4"), Kind: types.File, Size: 10}
	w := httptest.NewRecorder()
	_, err := responder.Respond(w, missing, nil, true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unopenable file, got %v", err)
	}
	if len(w.Header()) != 0 {
		t.Errorf("Expected no headers, got %v", w.Header())
	}

	_, err = responder.Respond(httptest.NewRecorder(), types.Resource{Kind: types.Missing}, nil, true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing resource, got %v", err)
	}
}

func TestContentResponder_HeadHasNoBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	writeFile(t, path, pattern(1000))
	res := fileResource(t, path)

	w := httptest.NewRecorder()
	d, err := NewContentResponder(64).Respond(w, res, mustParse(t, "bytes=0-9"), false)
	if err != nil {
		t.Fatalf("Respond error = %v", err)
	}
	if w.Code != http.StatusPartialContent || w.Header().Get("Content-Length") != "10" {
		t.Errorf("Unexpected HEAD response %d %v", w.Code, w.Header())
	}
	if w.Body.Len() != 0 || d.Written != 0 {
		t.Errorf("Expected empty body, got %d bytes", w.Body.Len())
	}
}

func TestContentResponder_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.mp4")
	writeFile(t, path, nil)
	res := fileResource(t, path)

	w := httptest.NewRecorder()
	if _, err := NewContentResponder(64).Respond(w, res, nil, true); err != nil {
		t.Fatalf("Respond error = %v", err)
	}
	if w.Code != http.StatusOK || w.Header().Get("Content-Length") != "0" {
		t.Errorf("Unexpected response %d %v", w.Code, w.Header())
	}

	_, err := NewContentResponder(64).Respond(httptest.NewRecorder(), res, mustParse(t, "bytes=0-"), true)
	if !errors.Is(err, ErrRangeNotSatisfiable) {
		t.Errorf("Expected ErrRangeNotSatisfiable for empty file, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":     "video/mp4",
		"A.MKV":     "video/x-matroska",
		"b.webm":    "video/webm",
		"c.html":    "text/html; charset=utf-8",
		"no-ext":    "application/octet-stream",
		"d.unknown": "application/octet-stream",
	}
	for name, want := range tests {
		if got := contentType(name); got != want {
			t.Errorf("contentType(%q) = %q, want %q", name, got, want)
		}
	}
}

// endlessReader behaves like a file that keeps growing while it is read
type endlessReader struct {
	seeks int
	read  int64
}

func (r *endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	r.read += int64(len(p))
	return len(p), nil
}

func (r *endlessReader) Seek(offset int64, whence int) (int64, error) {
	r.seeks++
	return offset, nil
}

func TestCopyWindow_NeverExceedsWindow(t *testing.T) {
	for _, n := range []int64{0, 1, 7, 64, 65, 1000} {
		src := &endlessReader{}
		var dst bytes.Buffer
		written, err := copyWindow(&dst, src, 10, n, make([]byte, 64))
		if err != nil {
			t.Fatalf("n=%d: copyWindow error = %v", n, err)
		}
		if written != n || int64(dst.Len()) != n {
			t.Errorf("n=%d: wrote %d (%d buffered)", n, written, dst.Len())
		}
		if src.read > n {
			t.Errorf("n=%d: read %d bytes past the window", n, src.read)
		}
		if src.seeks != 1 {
			t.Errorf("n=%d: expected a single seek, got %d", n, src.seeks)
		}
	}
}

func TestCopyWindow_SourceShorterThanWindow(t *testing.T) {
	src := strings.NewReader("0123456789")
	var dst bytes.Buffer
	written, err := copyWindow(&dst, src, 4, 100, make([]byte, 3))
	if err != nil {
		t.Fatalf("copyWindow error = %v", err)
	}
	if written != 6 || dst.String() != "456789" {
		t.Errorf("Expected 456789, got %q (%d)", dst.String(), written)
	}
}

// failingWriter accepts limit bytes and then fails like a closed socket
type failingWriter struct {
	limit   int
	written int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		n := w.limit - w.written
		w.written = w.limit
		return n, syscall.EPIPE
	}
	w.written += len(p)
	return len(p), nil
}

func TestCopyWindow_TransportInterrupted(t *testing.T) {
	src := bytes.NewReader(pattern(1000))
	dst := &failingWriter{limit: 100}

	written, err := copyWindow(dst, src, 0, 1000, make([]byte, 64))
	if !errors.Is(err, ErrTransportInterrupted) {
		t.Fatalf("Expected ErrTransportInterrupted, got %v", err)
	}
	if !errors.Is(err, syscall.EPIPE) {
		t.Errorf("Expected the underlying EPIPE to be preserved, got %v", err)
	}
	if written != 100 {
		t.Errorf("Expected 100 bytes written, got %d", written)
	}
}

// errReader fails after the first read
type errReader struct {
	calls int
}

var errDisk = errors.New("disk error")

func (r *errReader) Read(p []byte) (int, error) {
	r.calls++
	if r.calls > 1 {
		return 0, errDisk
	}
	return len(p), nil
}

func (r *errReader) Seek(offset int64, whence int) (int64, error) { return offset, nil }

func TestCopyWindow_ReadErrorIsNotTransport(t *testing.T) {
	var dst bytes.Buffer
	_, err := copyWindow(&dst, &errReader{}, 0, 1000, make([]byte, 16))
	if !errors.Is(err, errDisk) {
		t.Fatalf("Expected disk error, got %v", err)
	}
	if errors.Is(err, ErrTransportInterrupted) {
		t.Error("Read errors must not be reported as transport interruptions")
	}
}
