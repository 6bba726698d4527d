package types

import "time"

// ResourceKind classifies what a request path resolved to
type ResourceKind int

const (
	Missing ResourceKind = iota
	File
	Directory
)

func (k ResourceKind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	default:
		return "missing"
	}
}

// Resource describes a request path resolved against the web root
type Resource struct {
	AbsPath string
	URLPath string
	Kind    ResourceKind
	Size    int64
	ModTime time.Time
}

// DirectoryEntry represents one immediate child of a listed directory
type DirectoryEntry struct {
	Name      string
	Kind      ResourceKind
	IsMedia   bool
	IsSymlink bool
}

// MediaFile is a media file found by a recursive scan, relative to the web root
type MediaFile struct {
	RelPath string
	Ext     string
}

// MediaItem is a single record of the JSON listing served to app clients
type MediaItem struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// MediaListing is the JSON listing document
type MediaListing struct {
	Data []MediaItem `json:"data"`
}

// ClientKind selects how directory listings are rendered
type ClientKind int

const (
	Browser ClientKind = iota
	ProgrammaticClient
)

// AccessStats holds persisted per-file delivery statistics
type AccessStats struct {
	Path            string    `json:"path"`
	Requests        int64     `json:"requests"`
	PartialRequests int64     `json:"partial_requests"`
	BytesServed     int64     `json:"bytes_served"`
	LastStatus      int       `json:"last_status"`
	LastAccess      time.Time `json:"last_access"`
}
