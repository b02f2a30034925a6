package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/sagecodex/internal/types"
)

// UsageLog appends token-usage records to usage.jsonl. Callers treat
// failures here as non-fatal; a turn never fails because accounting did.
type UsageLog struct {
	root string
	mu   sync.Mutex
}

// NewUsageLog creates a file-backed UsageLog rooted at dir.
func NewUsageLog(root string) *UsageLog {
	return &UsageLog{root: root}
}

func (u *UsageLog) path() string {
	return filepath.Join(u.root, "usage.jsonl")
}

// Record appends one usage line.
func (u *UsageLog) Record(_ context.Context, rec *types.UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := os.MkdirAll(u.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}
	f, err := os.OpenFile(u.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write usage record: %w", err)
	}
	return nil
}
