// Package session persists conversations as JSONL files keyed by a
// session name. Each line is one message with a timestamp; loading
// skips lines that fail to parse so a partially corrupted file still
// yields the salvageable conversation.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mika/saker/internal/observability"
	"github.com/mika/saker/pkg/chat"
)

// Entry is one persisted message line.
type Entry struct {
	Timestamp time.Time    `json:"timestamp"`
	Message   chat.Message `json:"message"`
}

// Info describes a stored session.
type Info struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size_bytes"`
	Modified time.Time `json:"modified"`
}

// Store reads and writes session files under a directory.
type Store struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the session directory if needed.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".saker", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Session store initialized")
	return &Store{
		dir:   dir,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// validateName rejects names that would escape the session directory.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("session name cannot contain '..'")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("session name cannot contain path separators")
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("session name cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".jsonl")
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[name]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[name] = l
	return l
}

// Append writes messages to the end of a session file, creating it on
// first use.
func (s *Store) Append(name string, messages ...chat.Message) error {
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	if err := validateName(name); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		if msg.Role == "" {
			return fmt.Errorf("message role cannot be empty")
		}
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	file, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	now := time.Now()
	for _, msg := range messages {
		data, err := json.Marshal(Entry{Timestamp: now, Message: msg})
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync session file: %w", err)
	}

	s.log.Debug().Str("session", name).Int("messages", len(messages)).Msg("Messages appended")
	return nil
}

// Load reads a session into a conversation history. A missing file is
// an empty conversation, not an error.
func (s *Store) Load(name string) (*chat.History, error) {
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	if err := validateName(name); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return chat.NewHistory(), nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	history := chat.NewHistory()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			s.log.Warn().Str("session", name).Int("line", line).Err(err).Msg("Skipping unparseable line")
			continue
		}
		if entry.Message.Role == "" {
			s.log.Warn().Str("session", name).Int("line", line).Msg("Skipping entry without a role")
			continue
		}
		history.Append(entry.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	s.log.Debug().Str("session", name).Int("messages", history.Len()).Msg("Session loaded")
	return history, nil
}

// List returns the stored sessions sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("read session directory: %w", err)
	}

	var sessions []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, Info{
			Name:     strings.TrimSuffix(entry.Name(), ".jsonl"),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
	return sessions, nil
}

// Delete removes a session file. Deleting a missing session is not an
// error.
func (s *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, name)
	s.mu.Unlock()

	s.log.Info().Str("session", name).Msg("Session deleted")
	return nil
}
