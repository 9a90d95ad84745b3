// Package allowlist reads and extends the persisted sheet of usernames
// permitted to receive agent replies. The sheet is tabular: one column of
// profile URLs of the form https://x.com/<username>/ with an optional
// header row.
package allowlist

import (
	"encoding/csv"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const urlColumn = "Profile URL"

// Store persists the allow-list as a CSV sheet on disk. Entries are
// append-only; there is no delete. Add and ListAllowed are safe against
// each other within one process; cross-process appends race unless the
// filesystem's O_APPEND is atomic for the row size (it is on local
// filesystems, not on NFS).
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// ListAllowed parses the sheet and returns the extracted usernames, in
// sheet order, skipping rows that do not resolve to a username.
func (s *Store) ListAllowed() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	col := 0
	first := true
	var usernames []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if idx := headerIndex(row); idx >= 0 {
				col = idx
				continue
			}
		}
		if col >= len(row) {
			continue
		}
		if u, ok := UsernameFromProfileURL(row[col]); ok {
			usernames = append(usernames, u)
		}
	}
	return usernames, nil
}

// Add appends username to the sheet in canonical profile-URL form.
func (s *Store) Add(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("empty username")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{CanonicalProfileURL(username)}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// UsernameFromProfileURL extracts the username from a profile URL: the
// percent-decoded first path segment. Search and listing pages, empty
// paths, and unparseable URLs yield no username.
func UsernameFromProfileURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := parsed.EscapedPath()
	if path == "" || path == "/" || strings.HasPrefix(path, "/search") {
		return "", false
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", false
	}
	username, err := url.PathUnescape(segments[0])
	if err != nil {
		return "", false
	}
	return username, true
}

// CanonicalProfileURL renders the stored row form for a username.
func CanonicalProfileURL(username string) string {
	return "https://x.com/" + url.PathEscape(username) + "/"
}

func headerIndex(row []string) int {
	for i, cell := range row {
		if strings.EqualFold(strings.TrimSpace(cell), urlColumn) {
			return i
		}
	}
	return -1
}
