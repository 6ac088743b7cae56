package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mika/saker/pkg/tool"
)

// RegisterTools adds the note tools to the registry: memory_search,
// memory_read, memory_write, memory_list and memory_delete.
func RegisterTools(m *Manager, registry *tool.Registry) error {
	tools := []tool.Tool{
		m.searchTool(),
		m.readTool(),
		m.writeTool(),
		m.listTool(),
		m.deleteTool(),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

// notePath validates a note path from the model and resolves it inside
// the memory directory. Absolute paths and traversal are rejected.
func (m *Manager) notePath(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", errors.New("path must be relative to the memory directory")
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("path must stay inside the memory directory")
	}
	if !strings.HasSuffix(strings.ToLower(clean), ".md") {
		return "", errors.New("path must end in .md")
	}
	return filepath.Join(m.dir, clean), nil
}

func (m *Manager) searchTool() tool.Tool {
	def := tool.Definition{
		Name:        "memory_search",
		Description: "Search saved notes by meaning and keywords. Returns the best matching note excerpts with their paths and relevance scores.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"query":     tool.StringProp("What to look for"),
			"limit":     tool.IntegerProp("Maximum number of results (default 10)"),
			"min_score": tool.NumberProp("Drop results scoring below this threshold"),
		}, "query"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Query    string  `json:"query"`
			Limit    int     `json:"limit"`
			MinScore float64 `json:"min_score"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		opts := defaultSearchOptions()
		opts.Limit = 10
		if params.Limit > 0 {
			opts.Limit = params.Limit
		}
		if params.MinScore > 0 {
			opts.MinScore = params.MinScore
		}

		results, err := m.Search(ctx, params.Query, opts)
		if err != nil {
			return "", err
		}
		return encodeResult(map[string]interface{}{
			"query":   params.Query,
			"count":   len(results),
			"results": results,
		})
	})
}

func (m *Manager) readTool() tool.Tool {
	def := tool.Definition{
		Name:        "memory_read",
		Description: "Read the full content of a note by its path, as returned by memory_search or memory_list.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"path": tool.StringProp("Note path relative to the memory directory, e.g. projects/saker.md"),
		}, "path"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Path string `json:"path"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		full, err := m.notePath(params.Path)
		if err != nil {
			return "", err
		}
		content, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("note not found: %s", params.Path)
			}
			return "", fmt.Errorf("read note: %w", err)
		}
		return encodeResult(map[string]interface{}{
			"path":    params.Path,
			"content": string(content),
		})
	})
}

func (m *Manager) writeTool() tool.Tool {
	def := tool.Definition{
		Name:        "memory_write",
		Description: "Create or overwrite a markdown note. Use this to remember facts, decisions and context for later sessions.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"path":    tool.StringProp("Note path relative to the memory directory, must end in .md"),
			"content": tool.StringProp("Markdown content of the note"),
		}, "path", "content"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		full, err := m.notePath(params.Path)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", fmt.Errorf("create note directory: %w", err)
		}
		if err := os.WriteFile(full, []byte(params.Content), 0644); err != nil {
			return "", fmt.Errorf("write note: %w", err)
		}
		m.MarkDirty()
		m.log.Debug().Str("path", params.Path).Int("bytes", len(params.Content)).Msg("Note written")
		return encodeResult(map[string]interface{}{
			"path":          params.Path,
			"bytes_written": len(params.Content),
		})
	})
}

func (m *Manager) listTool() tool.Tool {
	def := tool.Definition{
		Name:        "memory_list",
		Description: "List saved notes, optionally filtered by a substring of the path.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"filter": tool.StringProp("Only list notes whose path contains this substring"),
		}),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Filter string `json:"filter"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}

		type noteInfo struct {
			Path     string    `json:"path"`
			Size     int64     `json:"size_bytes"`
			Modified time.Time `json:"modified"`
		}
		var notes []noteInfo
		err := filepath.Walk(m.dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !strings.HasSuffix(strings.ToLower(info.Name()), ".md") {
				return nil
			}
			rel, _ := filepath.Rel(m.dir, path)
			if params.Filter != "" && !strings.Contains(rel, params.Filter) {
				return nil
			}
			notes = append(notes, noteInfo{Path: rel, Size: info.Size(), Modified: info.ModTime()})
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("list notes: %w", err)
		}
		return encodeResult(map[string]interface{}{
			"count": len(notes),
			"notes": notes,
		})
	})
}

func (m *Manager) deleteTool() tool.Tool {
	def := tool.Definition{
		Name:        "memory_delete",
		Description: "Delete a note. The path must match exactly; use memory_list to find it first.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"path": tool.StringProp("Note path relative to the memory directory"),
		}, "path"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Path string `json:"path"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		full, err := m.notePath(params.Path)
		if err != nil {
			return "", err
		}
		if err := os.Remove(full); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("note not found: %s", params.Path)
			}
			return "", fmt.Errorf("delete note: %w", err)
		}
		m.MarkDirty()
		m.log.Debug().Str("path", params.Path).Msg("Note deleted")
		return encodeResult(map[string]interface{}{
			"path":    params.Path,
			"deleted": true,
		})
	})
}

// decodeArgs remarshals the argument map into a typed params struct.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

func encodeResult(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(raw), nil
}
