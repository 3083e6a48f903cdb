// Package workspace allocates and tears down single-use execution directories.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRootName   = "academy_run"
	maxAcquireRetries = 5
)

// Workspace is an exclusively-owned directory backing one execution.
type Workspace struct {
	Token string
	Dir   string

	once sync.Once
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Manager hands out unique workspaces under a shared scratch root.
type Manager struct {
	root   string
	now    func() time.Time
	suffix func() string
	remove func(string) error
}

// NewManager creates a manager rooted at root.
// An empty root resolves to <tmp>/academy_run.
func NewManager(root string) *Manager {
	if strings.TrimSpace(root) == "" {
		root = filepath.Join(os.TempDir(), defaultRootName)
	}
	return &Manager{
		root:   root,
		now:    time.Now,
		suffix: randomSuffix,
		remove: os.RemoveAll,
	}
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, empty, uniquely-named workspace.
// The scratch root is created lazily.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceCreateFailed, "create scratch root failed")
	}

	var lastErr error
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		token := fmt.Sprintf("%d_%s", m.now().UnixNano(), m.suffix())
		dir := filepath.Join(m.root, token)
		// Mkdir fails on an existing name, so a live workspace is never shared.
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return &Workspace{Token: token, Dir: dir}, nil
		}
		lastErr = err
		if !errors.Is(err, fs.ErrExist) {
			break
		}
		logger.Warn(ctx, "workspace name collision, retrying", zap.String("workspace", token))
	}
	return nil, appErr.Wrapf(lastErr, appErr.WorkspaceCreateFailed, "create workspace failed")
}

// Release removes the workspace and everything in it.
// Failures are logged and swallowed; calling Release twice is a no-op.
func (m *Manager) Release(ctx context.Context, ws *Workspace) {
	if ws == nil {
		return
	}
	ws.once.Do(func() {
		if err := m.remove(ws.Dir); err != nil {
			logger.Warn(ctx, "workspace cleanup failed",
				zap.Int("code", int(appErr.WorkspaceCleanupFailed)),
				zap.String("workspace", ws.Token),
				zap.String("dir", ws.Dir),
				zap.Error(err),
			)
		}
	})
}

func randomSuffix() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
