package filesystem

import (
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"mediaserve/pkg/types"
)

// WebRoot maps request paths onto a directory tree
type WebRoot struct {
	dir        string
	mediaExts  []string
	indexFiles []string
}

func New(dir string, mediaExts, indexFiles []string) (*WebRoot, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve web root %q: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat web root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("web root %s is not a directory", abs)
	}

	exts := make([]string, 0, len(mediaExts))
	for _, ext := range mediaExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}

	return &WebRoot{
		dir:        abs,
		mediaExts:  exts,
		indexFiles: indexFiles,
	}, nil
}

// Dir returns the absolute web root directory
func (wr *WebRoot) Dir() string {
	return wr.dir
}

// MediaExt returns the lower-cased media extension of name, or "" if name is not media
func (wr *WebRoot) MediaExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range wr.mediaExts {
		if ext == want {
			return ext
		}
	}
	return ""
}

// Resolve maps an escaped request path onto the web root. Paths that cannot
// be decoded, or that would escape the root, resolve to a Missing resource.
func (wr *WebRoot) Resolve(rawPath string) types.Resource {
	decoded, err := url.PathUnescape(rawPath)
	if err != nil || strings.IndexByte(decoded, 0) >= 0 {
		return types.Resource{Kind: types.Missing}
	}

	urlPath := path.Clean("/" + decoded)
	absPath := filepath.Join(wr.dir, filepath.FromSlash(urlPath))
	if !wr.contains(absPath) {
		return types.Resource{Kind: types.Missing}
	}

	return wr.stat(absPath, urlPath)
}

// contains reports whether absPath lies at or beneath the web root. The
// check is lexical: symlinks placed inside the root are trusted and may
// point anywhere.
func (wr *WebRoot) contains(absPath string) bool {
	return within(wr.dir, absPath)
}

// within reports whether p is base or lies beneath it
func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (wr *WebRoot) stat(absPath, urlPath string) types.Resource {
	res := types.Resource{
		AbsPath: absPath,
		URLPath: urlPath,
		Kind:    types.Missing,
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return res
	}

	res.ModTime = info.ModTime()
	switch {
	case info.IsDir():
		res.Kind = types.Directory
	case info.Mode().IsRegular():
		res.Kind = types.File
		res.Size = info.Size()
	}
	return res
}

// IndexFile returns the first configured index file inside dir, if any
func (wr *WebRoot) IndexFile(dir types.Resource) (types.Resource, bool) {
	if dir.Kind != types.Directory {
		return types.Resource{}, false
	}

	for _, name := range wr.indexFiles {
		res := wr.stat(filepath.Join(dir.AbsPath, name), path.Join(dir.URLPath, name))
		if res.Kind == types.File {
			return res, true
		}
	}
	return types.Resource{}, false
}

// ListDir returns the immediate children of dir. Directories are always
// included, plain files only when they carry a media extension. Entries are
// sorted case-insensitively by name.
func (wr *WebRoot) ListDir(dir types.Resource) ([]types.DirectoryEntry, error) {
	children, err := os.ReadDir(dir.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir.URLPath, err)
	}

	entries := make([]types.DirectoryEntry, 0, len(children))
	for _, child := range children {
		entry := types.DirectoryEntry{
			Name:      child.Name(),
			Kind:      types.File,
			IsSymlink: child.Type()&fs.ModeSymlink != 0,
		}

		isDir := child.IsDir()
		if entry.IsSymlink {
			// Follow the link so that links to directories list as directories.
			if info, err := os.Stat(filepath.Join(dir.AbsPath, child.Name())); err == nil {
				isDir = info.IsDir()
			}
		}

		if isDir {
			entry.Kind = types.Directory
		} else {
			entry.IsMedia = wr.MediaExt(entry.Name) != ""
			if !entry.IsMedia {
				continue
			}
		}
		entries = append(entries, entry)
	}

	SortEntries(entries)
	return entries, nil
}

// SortEntries orders entries case-insensitively by name, falling back to
// byte order so that the result is deterministic.
func SortEntries(entries []types.DirectoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if a != b {
			return a < b
		}
		return entries[i].Name < entries[j].Name
	})
}

// WalkMedia recursively collects media files beneath dir in lexical order.
// Symlinked directories are followed and reported under the link's path,
// unless the link leads back to a directory on its own path. A relative
// path is reported once.
func (wr *WebRoot) WalkMedia(dir types.Resource) ([]types.MediaFile, error) {
	if _, err := os.ReadDir(dir.AbsPath); err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir.URLPath, err)
	}

	scan := newMediaScan(wr, dir.AbsPath)
	if err := scan.walk(dir.AbsPath); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir.URLPath, err)
	}

	return scan.files, nil
}

// mediaScan accumulates the result of one WalkMedia call
type mediaScan struct {
	wr    *WebRoot
	root  string
	files []types.MediaFile
	seen  map[string]bool
}

func newMediaScan(wr *WebRoot, root string) *mediaScan {
	return &mediaScan{
		wr:   wr,
		root: filepath.Clean(root),
		seen: make(map[string]bool),
	}
}

func (s *mediaScan) walk(dir string) error {
	// The trailing separator makes a symlinked directory resolve to its target.
	root := dir
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() && p != root {
				log.Printf("Skipping unreadable directory %s: %v", p, walkErr)
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				s.follow(p)
				return nil
			}
		}

		return s.add(p)
	})
}

// follow walks the symlinked directory link unless its target is the
// directory holding the link or one of that directory's ancestors up to the
// scan root.
func (s *mediaScan) follow(link string) {
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		log.Printf("Skipping unresolvable link %s: %v", link, err)
		return
	}

	for dir := filepath.Dir(link); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil && resolved == target {
			return
		}
		if dir == s.root || !within(s.root, dir) {
			break
		}
	}

	if err := s.walk(link); err != nil {
		log.Printf("Skipping linked directory %s: %v", link, err)
	}
}

// add records p if it is a media file whose relative path was not seen yet
func (s *mediaScan) add(p string) error {
	ext := s.wr.MediaExt(filepath.Base(p))
	if ext == "" {
		return nil
	}

	rel, err := filepath.Rel(s.wr.dir, p)
	if err != nil {
		return err
	}
	rel = "/" + filepath.ToSlash(rel)
	if s.seen[rel] {
		return nil
	}
	s.seen[rel] = true

	s.files = append(s.files, types.MediaFile{
		RelPath: rel,
		Ext:     ext,
	})
	return nil
}
