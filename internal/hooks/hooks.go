// Package hooks installs the rulebook quality gates as git hooks.
package hooks

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/templates"
)

// Signature marks a hook file as written by rulebook.
const Signature = "rulebook-managed hook"

// backupSuffix is appended to a foreign hook moved aside by Install.
const backupSuffix = ".backup"

// Names lists the hooks rulebook manages.
func Names() []string {
	return []string{"pre-commit", "pre-push"}
}

// Action describes what happened to one hook file.
type Action string

const (
	ActionInstalled Action = "installed"
	ActionUpdated   Action = "updated"
	ActionSkipped   Action = "skipped"
	ActionRemoved   Action = "removed"
	ActionRestored  Action = "restored"
)

// Change is the outcome for one hook.
type Change struct {
	Hook   string `json:"hook" yaml:"hook"`
	Path   string `json:"path" yaml:"path"`
	Action Action `json:"action" yaml:"action"`
	Backup string `json:"backup,omitempty" yaml:"backup,omitempty"`
	Note   string `json:"note,omitempty" yaml:"note,omitempty"`
}

// HookStatus reports what is currently on disk for one hook.
type HookStatus struct {
	Hook      string `json:"hook" yaml:"hook"`
	Path      string `json:"path" yaml:"path"`
	Installed bool   `json:"installed" yaml:"installed"`
	Managed   bool   `json:"managed" yaml:"managed"`
	Backup    bool   `json:"backup" yaml:"backup"`
}

// Dir returns the hooks directory of the repository at root. A .git file
// (worktrees, submodules) is followed through its gitdir line.
func Dir(root string) (string, error) {
	gitPath := filepath.Join(root, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, root)
		}
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(gitPath, "hooks"), nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	gitDir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("%w: unexpected .git file in %s", ErrNotGitRepo, root)
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(root, gitDir)
	}
	return filepath.Join(gitDir, "hooks"), nil
}

// Render returns the script for hook with the configured gate commands.
func Render(hook string, cfg *config.Config) (string, error) {
	return templates.Render(templates.Path(templates.KindHook, hook), templates.DataFromConfig(cfg, ""))
}

// IsManaged reports whether script carries the rulebook signature.
func IsManaged(script []byte) bool {
	return bytes.Contains(script, []byte(Signature))
}

// Install writes every managed hook. Up-to-date hooks are skipped unless
// force is set. A foreign hook is moved to <hook>.backup first; when that
// backup already exists the hook is left alone unless force is set.
func Install(root string, cfg *config.Config, force bool) ([]Change, error) {
	dir, err := Dir(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create hooks dir: %w", err)
	}

	var changes []Change
	for _, hook := range Names() {
		script, err := Render(hook, cfg)
		if err != nil {
			return changes, fmt.Errorf("render %s: %w", hook, err)
		}
		change, err := installOne(dir, hook, []byte(script), force)
		if err != nil {
			return changes, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func installOne(dir, hook string, script []byte, force bool) (Change, error) {
	path := filepath.Join(dir, hook)
	change := Change{Hook: hook, Path: path, Action: ActionInstalled}

	existing, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return change, fmt.Errorf("read %s: %w", hook, err)
	case IsManaged(existing):
		if bytes.Equal(existing, script) && !force {
			change.Action = ActionSkipped
			change.Note = "up to date"
			return change, nil
		}
		change.Action = ActionUpdated
	default:
		backup := path + backupSuffix
		if _, statErr := os.Stat(backup); statErr == nil && !force {
			change.Action = ActionSkipped
			change.Note = fmt.Sprintf("foreign hook present and %s exists; use --force", filepath.Base(backup))
			return change, nil
		}
		if err := os.Rename(path, backup); err != nil {
			return change, fmt.Errorf("back up %s: %w", hook, err)
		}
		change.Backup = backup
	}

	if err := writeExecutable(path, script); err != nil {
		return change, fmt.Errorf("write %s: %w", hook, err)
	}
	return change, nil
}

func writeExecutable(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0755); err != nil {
		return err
	}
	// WriteFile only applies the mode to new files.
	return os.Chmod(path, 0755)
}

// Uninstall removes rulebook-managed hooks and restores any backups.
// Foreign hooks are never touched.
func Uninstall(root string) ([]Change, error) {
	dir, err := Dir(root)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, hook := range Names() {
		path := filepath.Join(dir, hook)
		backup := path + backupSuffix
		change := Change{Hook: hook, Path: path, Action: ActionSkipped}

		existing, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			change.Note = "not installed"
		case err != nil:
			return changes, fmt.Errorf("read %s: %w", hook, err)
		case !IsManaged(existing):
			change.Note = "not managed by rulebook"
			changes = append(changes, change)
			continue
		default:
			if err := os.Remove(path); err != nil {
				return changes, fmt.Errorf("remove %s: %w", hook, err)
			}
			change.Action = ActionRemoved
			change.Note = ""
		}

		if _, err := os.Stat(backup); err == nil {
			if err := os.Rename(backup, path); err != nil {
				return changes, fmt.Errorf("restore %s: %w", hook, err)
			}
			change.Action = ActionRestored
			change.Backup = backup
			change.Note = ""
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// Status inspects the managed hooks without changing anything.
func Status(root string) ([]HookStatus, error) {
	dir, err := Dir(root)
	if err != nil {
		return nil, err
	}

	out := make([]HookStatus, 0, len(Names()))
	for _, hook := range Names() {
		path := filepath.Join(dir, hook)
		st := HookStatus{Hook: hook, Path: path}
		if data, err := os.ReadFile(path); err == nil {
			st.Installed = true
			st.Managed = IsManaged(data)
		}
		if _, err := os.Stat(path + backupSuffix); err == nil {
			st.Backup = true
		}
		out = append(out, st)
	}
	return out, nil
}
