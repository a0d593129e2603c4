// Package attachments persists inbound mail attachments on a filesystem
// and hands back URLs that stay valid for the lifetime of the issue.
package attachments

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/model"
)

// FileStore writes attachments below a root directory, one directory per
// issue and one optional sub-directory per reference.
type FileStore struct {
	fs      afero.Fs
	root    string
	baseURL string
}

var _ gateway.AttachmentStore = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir on fs. URLs are built by
// joining baseURL with the stored path; an empty baseURL yields file://
// URLs.
func NewFileStore(fs afero.Fs, dir, baseURL string) *FileStore {
	return &FileStore{
		fs:      fs,
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewOSFileStore creates a store on the local disk.
func NewOSFileStore(dir, baseURL string) *FileStore {
	return NewFileStore(afero.NewOsFs(), dir, baseURL)
}

// Save writes files under target and returns their URLs in input order.
// A filename used twice within the same target gets a numeric suffix.
func (s *FileStore) Save(
	ctx context.Context,
	target gateway.AttachmentTarget,
	files []model.Attachment,
) ([]gateway.SavedFile, error) {
	if target.IssueID <= 0 {
		return nil, fmt.Errorf("saving attachments: invalid issue id %d", target.IssueID)
	}

	segments := []string{strconv.FormatInt(target.IssueID, 10)}
	if ref := sanitize(target.Ref); ref != "" {
		segments = append(segments, ref)
	}
	dir := filepath.Join(append([]string{s.root}, segments...)...)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment directory %s: %w", dir, err)
	}

	saved := make([]gateway.SavedFile, 0, len(files))
	used := make(map[string]bool, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		name := uniqueName(sanitize(f.Filename), i, used)
		if err := afero.WriteFile(s.fs, filepath.Join(dir, name), f.Content, 0o644); err != nil {
			return saved, fmt.Errorf("writing attachment %s: %w", name, err)
		}
		saved = append(saved, gateway.SavedFile{
			Filename: f.Filename,
			URL:      s.url(append(segments, name)),
		})
	}
	return saved, nil
}

func (s *FileStore) url(segments []string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	rel := path.Join(escaped...)

	if s.baseURL == "" {
		abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(path.Join(segments...))))
		if err != nil {
			abs = filepath.Join(s.root, filepath.FromSlash(path.Join(segments...)))
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	return s.baseURL + "/" + rel
}

// sanitize reduces a name to a single safe path segment.
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)
	name = strings.Trim(name, ". ")
	return name
}

func uniqueName(name string, index int, used map[string]bool) string {
	if name == "" {
		name = fmt.Sprintf("attachment-%d", index+1)
	}
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}
