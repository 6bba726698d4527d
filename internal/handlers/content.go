package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mediaserve/internal/byterange"
	"mediaserve/pkg/types"
)

// mediaTypes covers extensions missing from the builtin mime table on many systems
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
	".flv":  "video/x-flv",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Delivery describes a committed file response
type Delivery struct {
	Status  int
	Start   int64
	End     int64
	Size    int64
	Written int64
}

// ContentResponder writes whole files or a single byte range of them
type ContentResponder struct {
	open       func(name string) (io.ReadSeekCloser, error)
	bufferSize int
}

func NewContentResponder(bufferSize int) *ContentResponder {
	return &ContentResponder{
		open: func(name string) (io.ReadSeekCloser, error) {
			return os.Open(name)
		},
		bufferSize: bufferSize,
	}
}

// Respond sends res, or the rng window of it, to w. ErrNotFound and
// ErrRangeNotSatisfiable are returned before anything is written; the
// file is not opened for an unsatisfiable range. Once headers are sent
// the returned Delivery has a non-zero Status, and a failing client
// surfaces as ErrTransportInterrupted.
func (c *ContentResponder) Respond(w http.ResponseWriter, res types.Resource, rng *byterange.Range, withBody bool) (Delivery, error) {
	if res.Kind != types.File {
		return Delivery{}, ErrNotFound
	}

	d := Delivery{
		Status: http.StatusOK,
		End:    res.Size,
		Size:   res.Size,
	}
	if rng != nil {
		start, end, err := rng.Resolve(res.Size)
		if err != nil {
			return Delivery{}, fmt.Errorf("%w: %v", ErrRangeNotSatisfiable, err)
		}
		d.Status, d.Start, d.End = http.StatusPartialContent, start, end
	}

	f, err := c.open(res.AbsPath)
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", contentType(res.AbsPath))
	if d.Status == http.StatusPartialContent {
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", d.Start, d.End-1, d.Size))
	}
	h.Set("Content-Length", strconv.FormatInt(d.End-d.Start, 10))
	h.Set("Last-Modified", res.ModTime.UTC().Format(http.TimeFormat))
	w.WriteHeader(d.Status)

	if !withBody || d.End == d.Start {
		return d, nil
	}

	buf := make([]byte, c.bufferSize)
	d.Written, err = copyWindow(w, f, d.Start, d.End-d.Start, buf)
	if err != nil {
		return d, fmt.Errorf("streaming %s: %w", res.URLPath, err)
	}
	return d, nil
}

// copyWindow seeks src to start once and copies at most n bytes to dst,
// stopping early if src is exhausted. Write failures are wrapped in
// ErrTransportInterrupted.
func copyWindow(dst io.Writer, src io.ReadSeeker, start, n int64, buf []byte) (int64, error) {
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}

	var written int64
	for written < n {
		chunk := buf
		if remaining := n - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		nr, rerr := src.Read(chunk)
		if nr > 0 {
			nw, werr := dst.Write(chunk[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: %w", ErrTransportInterrupted, werr)
			}
			if nw != nr {
				return written, fmt.Errorf("%w: %w", ErrTransportInterrupted, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}
	return written, nil
}
