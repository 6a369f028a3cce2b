//go:build !linux

package engine

import (
	"context"

	"judgebox/internal/exec/sandbox/result"
	appErr "judgebox/pkg/errors"
)

func (r *LocalRunner) Compile(ctx context.Context, ws *Workspace) (result.CompileResult, error) {
	return result.CompileResult{}, appErr.Newf(appErr.JudgeSystemError, "process runner is only supported on linux")
}

func (r *LocalRunner) Spawn(ctx context.Context, ws *Workspace, opts SpawnOptions) (Process, error) {
	return nil, appErr.Newf(appErr.JudgeSystemError, "process runner is only supported on linux")
}
