// Package session persists conversations as JSONL files, one message per
// line. The line-oriented format keeps loads streaming and makes session
// files greppable.
package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/message"
)

// Session is one persisted conversation.
type Session struct {
	ID           string
	Model        string
	SystemPrompt string
	CreatedAt    time.Time
	Messages     []message.Message
}

// New creates a session with a fresh uuid.
func New(model, systemPrompt string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Model:        model,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now().UTC(),
	}
}

// Append adds messages to the session history.
func (s *Session) Append(msgs ...message.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Store reads and writes sessions under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating session directory %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (st *Store) Dir() string { return st.dir }

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".jsonl")
}

// header is the first line of a session file.
type header struct {
	Kind         string    `json:"kind"` // "session"
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Save writes the session atomically: a header line followed by one JSON
// message per line, to a temp file renamed into place.
func (st *Store) Save(s *Session) error {
	tmp, err := os.CreateTemp(st.dir, ".croft-session-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp session file")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(header{
		Kind:         "session",
		ID:           s.ID,
		Model:        s.Model,
		SystemPrompt: s.SystemPrompt,
		CreatedAt:    s.CreatedAt,
	}); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding session header")
	}
	for i, msg := range s.Messages {
		if err := enc.Encode(msg); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "encoding session message %d", i)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "flushing session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing session file")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrapf(err, "setting session file mode")
	}
	if err := os.Rename(tmp.Name(), st.path(s.ID)); err != nil {
		return errors.Wrapf(err, "renaming session file")
	}
	return nil
}

// Load reads a session line by line.
func (st *Store) Load(id string) (*Session, error) {
	f, err := os.Open(st.path(id))
	if err != nil {
		return nil, errors.Wrapf(err, "opening session %s", id)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, errors.Wrapf(err, "reading session %s", id)
		}
		return nil, errors.New("session %s is empty", id)
	}
	var h header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
		return nil, errors.Wrapf(err, "parsing session header for %s", id)
	}

	s := &Session{
		ID:           h.ID,
		Model:        h.Model,
		SystemPrompt: h.SystemPrompt,
		CreatedAt:    h.CreatedAt,
	}
	line := 1
	for sc.Scan() {
		line++
		if len(strings.TrimSpace(string(sc.Bytes()))) == 0 {
			continue
		}
		var msg message.Message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			return nil, errors.Wrapf(err, "parsing session %s line %d", id, line)
		}
		s.Messages = append(s.Messages, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading session %s", id)
	}
	return s, nil
}

// Info is a session summary for listings.
type Info struct {
	ID        string
	Model     string
	CreatedAt time.Time
	Messages  int
}

// List returns summaries of every stored session, newest first.
func (st *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing session directory %s", st.dir)
	}
	var infos []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		s, err := st.Load(id)
		if err != nil {
			// Skip unreadable files rather than fail the whole listing.
			continue
		}
		infos = append(infos, Info{
			ID:        s.ID,
			Model:     s.Model,
			CreatedAt: s.CreatedAt,
			Messages:  len(s.Messages),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// Delete removes a stored session.
func (st *Store) Delete(id string) error {
	if err := os.Remove(st.path(id)); err != nil {
		return errors.Wrapf(err, "deleting session %s", id)
	}
	return nil
}
