package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/strand/internal/runtime"
)

// resolver confines tool paths to the workspace root.
type resolver struct {
	root string
}

// resolve returns an absolute, cleaned path inside the workspace. An
// empty path means the root itself.
func (r resolver) resolve(path string) (string, error) {
	cleaned := strings.TrimSpace(path)
	if cleaned == "" {
		cleaned = "."
	}
	root := strings.TrimSpace(r.root)
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	target := cleaned
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return absTarget, nil
}

type listFilesArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list relative to the workspace root. Defaults to the root."`
}

type listEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

func listFilesHandler(res resolver, maxEntries int) runtime.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var args listFilesArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		dir, err := res.resolve(args.Path)
		if err != nil {
			return "", err
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("list directory: %w", err)
		}
		truncated := false
		if len(entries) > maxEntries {
			entries = entries[:maxEntries]
			truncated = true
		}

		shown := args.Path
		if shown == "" {
			shown = "."
		}
		out := struct {
			Path      string      `json:"path"`
			Entries   []listEntry `json:"entries"`
			Truncated bool        `json:"truncated,omitempty"`
		}{Path: shown, Entries: make([]listEntry, 0, len(entries)), Truncated: truncated}

		for _, e := range entries {
			item := listEntry{Name: e.Name(), Type: "file"}
			if e.IsDir() {
				item.Type = "dir"
			} else if info, err := e.Info(); err == nil {
				item.Size = info.Size()
			}
			out.Entries = append(out.Entries, item)
		}

		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(payload), nil
	}
}

type readFileArgs struct {
	Path     string `json:"path" jsonschema:"description=File to read relative to the workspace root"`
	Offset   int64  `json:"offset,omitempty" jsonschema:"minimum=0,description=Byte offset to start reading from"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"minimum=0,description=Maximum bytes to return"`
}

func readFileHandler(res resolver, maxReadBytes int) runtime.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var args readFileArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		if strings.TrimSpace(args.Path) == "" {
			return "", fmt.Errorf("path is required")
		}
		if args.Offset < 0 {
			return "", fmt.Errorf("offset must be >= 0")
		}
		resolved, err := res.resolve(args.Path)
		if err != nil {
			return "", err
		}

		file, err := os.Open(resolved)
		if err != nil {
			return "", fmt.Errorf("open file: %w", err)
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("stat file: %w", err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%q is a directory", args.Path)
		}
		if args.Offset > 0 {
			if _, err := file.Seek(args.Offset, io.SeekStart); err != nil {
				return "", fmt.Errorf("seek file: %w", err)
			}
		}

		limit := maxReadBytes
		if args.MaxBytes > 0 && args.MaxBytes < limit {
			limit = args.MaxBytes
		}
		buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}

		out := struct {
			Path      string `json:"path"`
			Content   string `json:"content"`
			Offset    int64  `json:"offset"`
			Bytes     int    `json:"bytes"`
			Truncated bool   `json:"truncated,omitempty"`
		}{
			Path:      args.Path,
			Content:   string(buf),
			Offset:    args.Offset,
			Bytes:     len(buf),
			Truncated: args.Offset+int64(len(buf)) < info.Size(),
		}
		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(payload), nil
	}
}
