package identity

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Inbox stages image attachments under a per-process directory, the way
// the telegram channel's downloadPhoto staged files under data/attachments
// — generalized here to be channel-agnostic and content-addressed by a
// caller-supplied stable id (e.g. the provider's file id) so repeated
// downloads of the same attachment are skipped.
type Inbox struct {
	dir    string
	client *http.Client
}

// NewInbox ensures dir exists and returns an Inbox rooted there.
func NewInbox(dir string) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("identity: create inbox dir: %w", err)
	}
	return &Inbox{dir: dir, client: http.DefaultClient}, nil
}

// Staged is one downloaded attachment, with a Cleanup func that removes it
// from disk. Callers defer Cleanup() on every exit path.
type Staged struct {
	Path    string
	Cleanup func()
}

// Fetch downloads url into the inbox under a name derived from id and ext,
// skipping the download if a file with that id prefix already exists
// (content-addressed: the same provider file id always names the same
// local file).
func (b *Inbox) Fetch(id, ext, url string) (*Staged, error) {
	base := filepath.Join(b.dir, "att_"+id)
	if matches, _ := filepath.Glob(base + "*"); len(matches) > 0 {
		path := matches[0]
		return &Staged{Path: path, Cleanup: func() { os.Remove(path) }}, nil
	}

	resp, err := b.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("identity: download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: download attachment: status %d", resp.StatusCode)
	}

	path := base + ext
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("identity: create attachment file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("identity: save attachment: %w", err)
	}

	return &Staged{Path: path, Cleanup: func() { os.Remove(path) }}, nil
}

// FormatAttachmentLine renders the "[Attached image: <path>]" prefix line
// prepended to the message text.
func FormatAttachmentLine(path string) string {
	return "[Attached image: " + path + "]"
}
