package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"mediaserve/internal/byterange"
	"mediaserve/internal/filesystem"
	"mediaserve/pkg/types"
)

// Recorder receives one call per file response whose headers were sent
type Recorder interface {
	Record(path string, status int, written int64) error
}

// MediaHandler serves files and directory listings from the web root
type MediaHandler struct {
	root       *filesystem.WebRoot
	content    *ContentResponder
	lister     *DirectoryLister
	recorder   Recorder
	indexFiles bool
}

// NewMediaHandler wires the request flow together. recorder may be nil.
func NewMediaHandler(root *filesystem.WebRoot, content *ContentResponder, lister *DirectoryLister, recorder Recorder, indexFiles bool) *MediaHandler {
	return &MediaHandler{
		root:       root,
		content:    content,
		lister:     lister,
		recorder:   recorder,
		indexFiles: indexFiles,
	}
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	disableCaching(w.Header())

	res := h.root.Resolve(r.URL.EscapedPath())
	switch res.Kind {
	case types.Missing:
		h.sendError(w, ErrNotFound)
		return
	case types.Directory:
		if !strings.HasSuffix(r.URL.Path, "/") {
			h.redirectToSlash(w, r)
			return
		}
		if h.indexFiles {
			if index, ok := h.root.IndexFile(res); ok {
				h.serveFile(w, r, index)
				return
			}
		}
		h.serveListing(w, r, res)
		return
	}

	h.serveFile(w, r, res)
}

func disableCaching(header http.Header) {
	header.Set("Cache-Control", "max-age=0")
	header.Set("Expires", "0")
}

func (h *MediaHandler) redirectToSlash(w http.ResponseWriter, r *http.Request) {
	target := r.URL.EscapedPath() + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (h *MediaHandler) serveListing(w http.ResponseWriter, r *http.Request, res types.Resource) {
	payload, err := h.lister.List(res, h.lister.ClientKind(r), r.URL.Path)
	if err != nil {
		log.Printf("Error listing %s: %v", res.URLPath, err)
		h.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", payload.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload.Body)))
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		w.Write(payload.Body)
	}
}

func (h *MediaHandler) serveFile(w http.ResponseWriter, r *http.Request, res types.Resource) {
	rng, err := byterange.Parse(r.Header.Get("Range"))
	if err != nil {
		h.sendError(w, err)
		return
	}

	delivery, err := h.content.Respond(w, res, rng, r.Method != http.MethodHead)
	if delivery.Status == 0 {
		if errors.Is(err, ErrRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", res.Size))
		}
		h.sendError(w, err)
		return
	}

	switch {
	case errors.Is(err, ErrTransportInterrupted):
		log.Printf("Client went away during %s after %d bytes", res.URLPath, delivery.Written)
	case err != nil:
		log.Printf("Error serving %s: %v", res.URLPath, err)
	}

	if h.recorder != nil {
		if err := h.recorder.Record(res.URLPath, delivery.Status, delivery.Written); err != nil {
			log.Printf("Failed to record stats for %s: %v", res.URLPath, err)
		}
	}
}

func (h *MediaHandler) sendError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	http.Error(w, http.StatusText(code), code)
}
