// Package tools provides the builtin tool set: the ask/complete terminal
// pair, workspace-confined filesystem access, and a clock. Builtins are
// registered into a runtime registry once at startup; parameter schemas
// are reflected from their argument structs.
package tools

import (
	"fmt"
	"time"

	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/pkg/models"
)

const (
	defaultMaxReadBytes   = 200000
	defaultMaxListEntries = 500
)

// Config controls builtin tool behavior.
type Config struct {
	// WorkspaceRoot confines list_files and read_file. Empty disables the
	// filesystem tools entirely.
	WorkspaceRoot string

	// MaxReadBytes caps a single read_file response.
	MaxReadBytes int

	// MaxListEntries caps a single list_files response.
	MaxListEntries int

	// Clock supplies current_time. Nil means time.Now.
	Clock func() time.Time
}

type builtinTool struct {
	name        string
	description string
	args        any
	handler     runtime.Handler
}

// RegisterBuiltin registers the builtin tools in a fixed order, so schema
// listings are identical across restarts.
func RegisterBuiltin(reg *runtime.Registry, cfg Config) error {
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = defaultMaxReadBytes
	}
	if cfg.MaxListEntries <= 0 {
		cfg.MaxListEntries = defaultMaxListEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	builtins := []builtinTool{
		{
			name:        "ask",
			description: "Ask the user a question and pause the run until they reply.",
			args:        &askArgs{},
			handler:     askHandler(),
		},
		{
			name:        "complete",
			description: "Finish the run and report what was accomplished.",
			args:        &completeArgs{},
			handler:     completeHandler(),
		},
	}
	if cfg.WorkspaceRoot != "" {
		res := resolver{root: cfg.WorkspaceRoot}
		builtins = append(builtins,
			builtinTool{
				name:        "list_files",
				description: "List a directory inside the workspace.",
				args:        &listFilesArgs{},
				handler:     listFilesHandler(res, cfg.MaxListEntries),
			},
			builtinTool{
				name:        "read_file",
				description: "Read a file from the workspace with optional offset and byte limit.",
				args:        &readFileArgs{},
				handler:     readFileHandler(res, cfg.MaxReadBytes),
			},
		)
	}
	builtins = append(builtins, builtinTool{
		name:        "current_time",
		description: "Report the current date and time.",
		args:        &currentTimeArgs{},
		handler:     currentTimeHandler(cfg.Clock),
	})

	for _, tool := range builtins {
		params, err := reflectSchema(tool.args)
		if err != nil {
			return fmt.Errorf("reflect schema for %s: %w", tool.name, err)
		}
		err = reg.Register(models.ToolSchema{
			Name:        tool.name,
			Description: tool.description,
			Parameters:  params,
			Surfaces:    []models.InvocationSurface{models.SurfaceStructured, models.SurfaceTagged},
		}, tool.handler)
		if err != nil {
			return err
		}
	}
	return nil
}
