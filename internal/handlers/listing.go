package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"mediaserve/internal/cache"
	"mediaserve/internal/filesystem"
	"mediaserve/pkg/types"
)

const listingTemplate = `<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 4.01//EN" "http://www.w3.org/TR/html4/strict.dtd">
<html>
<head>
<meta http-equiv="Content-Type" content="text/html; charset=utf-8">
<title>Directory listing for {{.Path}}</title>
</head>
<body>
<h1>Directory listing for {{.Path}}</h1>
<hr>
<ul>
{{range .Items}}<li><a href="{{.Link}}">{{.Label}}</a></li>
{{end}}</ul>
<hr>
</body>
</html>
`

const listingContentType = "text/html; charset=utf-8"

// Payload is a rendered directory listing
type Payload struct {
	ContentType string
	Body        []byte
}

// ListingData represents data for the HTML template
type ListingData struct {
	Path  string
	Items []ListingItem
}

// ListingItem represents an item in the HTML listing
type ListingItem struct {
	Link  string
	Label string
}

// DirectoryLister renders directories as JSON for app clients and as HTML for browsers
type DirectoryLister struct {
	root     *filesystem.WebRoot
	scans    *cache.ScanCache
	baseURL  string
	agents   []string
	template *template.Template
}

// NewDirectoryLister creates a lister. scans may be nil to always rescan.
func NewDirectoryLister(root *filesystem.WebRoot, scans *cache.ScanCache, baseURL string, agents []string) *DirectoryLister {
	tmpl := template.Must(template.New("listing").Parse(listingTemplate))

	lowered := make([]string, 0, len(agents))
	for _, agent := range agents {
		if agent = strings.ToLower(strings.TrimSpace(agent)); agent != "" {
			lowered = append(lowered, agent)
		}
	}

	return &DirectoryLister{
		root:     root,
		scans:    scans,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		agents:   lowered,
		template: tmpl,
	}
}

// ClientKind picks the listing format from the User-Agent header
func (l *DirectoryLister) ClientKind(r *http.Request) types.ClientKind {
	ua := strings.ToLower(r.UserAgent())
	for _, agent := range l.agents {
		if strings.Contains(ua, agent) {
			return types.ProgrammaticClient
		}
	}
	return types.Browser
}

// List renders the directory res. requestPath is the decoded path shown in
// the HTML title. Enumeration failures are reported as ErrForbidden.
func (l *DirectoryLister) List(res types.Resource, kind types.ClientKind, requestPath string) (Payload, error) {
	if kind == types.ProgrammaticClient {
		return l.listJSON(res)
	}
	return l.listHTML(res, requestPath)
}

func (l *DirectoryLister) scan(res types.Resource) ([]types.MediaFile, error) {
	if l.scans != nil {
		if files, ok := l.scans.Get(res.AbsPath); ok {
			return files, nil
		}
	}

	files, err := l.root.WalkMedia(res)
	if err != nil {
		return nil, err
	}

	if l.scans != nil {
		l.scans.Set(res.AbsPath, files)
	}
	return files, nil
}

func (l *DirectoryLister) listJSON(res types.Resource) (Payload, error) {
	files, err := l.scan(res)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}

	listing := types.MediaListing{Data: make([]types.MediaItem, 0, len(files))}
	for _, f := range files {
		listing.Data = append(listing.Data, types.MediaItem{
			Name: f.RelPath,
			URL:  l.mediaURL(f.RelPath),
			Type: strings.TrimPrefix(f.Ext, "."),
		})
	}

	body, err := json.Marshal(listing)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to encode listing: %w", err)
	}

	return Payload{ContentType: listingContentType, Body: body}, nil
}

// mediaURL turns a web-root relative path into an absolute URL
func (l *DirectoryLister) mediaURL(relPath string) string {
	u := url.URL{Path: relPath}
	return l.baseURL + u.EscapedPath()
}

func (l *DirectoryLister) listHTML(res types.Resource, requestPath string) (Payload, error) {
	entries, err := l.root.ListDir(res)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}

	data := ListingData{
		Path:  requestPath,
		Items: make([]ListingItem, 0, len(entries)),
	}
	for _, entry := range entries {
		link := escapeLink(entry.Name)
		label := entry.Name
		if entry.Kind == types.Directory {
			link += "/"
			label += "/"
		}
		if entry.IsSymlink {
			label = entry.Name + "@"
		}
		data.Items = append(data.Items, ListingItem{Link: link, Label: label})
	}

	var buf bytes.Buffer
	if err := l.template.Execute(&buf, data); err != nil {
		return Payload{}, fmt.Errorf("failed to render listing: %w", err)
	}

	return Payload{ContentType: listingContentType, Body: buf.Bytes()}, nil
}

// escapeLink percent-encodes a single path segment for use as a relative
// href. Colons are escaped too so a name never reads as a URL scheme.
func escapeLink(name string) string {
	return strings.ReplaceAll(url.PathEscape(name), ":", "%3A")
}
