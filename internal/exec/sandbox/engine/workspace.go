package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"judgebox/internal/exec/sandbox/profile"
	appErr "judgebox/pkg/errors"

	"github.com/google/uuid"
)

// Workspace is the temporary directory owned by one execution.
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string
	BinaryPath string
	Recipe     profile.LanguageRecipe
}

func prepareWorkspace(root string, recipe profile.LanguageRecipe, source string, maxBytes int64) (*Workspace, error) {
	if maxBytes > 0 && int64(len(source)) > maxBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "source code exceeds %d bytes", maxBytes)
	}
	id := uuid.NewString()
	dir := filepath.Join(root, "ws-"+id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace: %v", err)
	}
	ws := &Workspace{
		ID:         id,
		Dir:        dir,
		SourcePath: filepath.Join(dir, recipe.SourceFile()),
		Recipe:     recipe,
	}
	if recipe.BinaryFile != "" {
		ws.BinaryPath = filepath.Join(dir, recipe.BinaryFile)
	}
	if err := os.WriteFile(ws.SourcePath, []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "write source file: %v", err)
	}
	return ws, nil
}

func removeWorkspace(ws *Workspace) error {
	if ws == nil || ws.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "remove workspace: %v", err)
	}
	return nil
}

// forkWorkspace creates dir name under ws and copies the top-level files of ws into it,
// so each run gets private copies of the source and compiled artifacts.
func forkWorkspace(ws *Workspace, name string) (*Workspace, error) {
	if ws == nil || ws.Dir == "" {
		return nil, appErr.New(appErr.WorkspaceError).WithMessage("workspace is not prepared")
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, appErr.Newf(appErr.WorkspaceError, "invalid run directory name %q", name)
	}
	dir := filepath.Join(ws.Dir, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create run directory: %v", err)
	}
	entries, err := os.ReadDir(ws.Dir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "read workspace: %v", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(ws.Dir, entry.Name()), filepath.Join(dir, entry.Name())); err != nil {
			return nil, appErr.Wrapf(err, appErr.WorkspaceError, "copy %s: %v", entry.Name(), err)
		}
	}
	fork := &Workspace{
		ID:         ws.ID + "-" + name,
		Dir:        dir,
		SourcePath: filepath.Join(dir, filepath.Base(ws.SourcePath)),
		Recipe:     ws.Recipe,
	}
	if ws.BinaryPath != "" {
		fork.BinaryPath = filepath.Join(dir, filepath.Base(ws.BinaryPath))
	}
	return fork, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy contents: %w", err)
	}
	return out.Close()
}
