// Package transport moves deltas between devices. The engine only ever sees
// the Pusher and Puller interfaces; what carries the bytes is pluggable.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/kioku-app/kioku/internal/merge"
)

// Pusher publishes this device's delta for other devices to pick up.
type Pusher interface {
	Push(ctx context.Context, delta merge.Delta) error
}

// Puller fetches deltas published by other devices. Pulling the same delta
// twice is harmless: merge is idempotent.
type Puller interface {
	Pull(ctx context.Context) ([]merge.Delta, error)
}

// DirExchange is a Pusher/Puller over a shared directory, typically one kept
// in sync by the platform (iCloud Drive, Syncthing, a mounted share). Each
// device writes its deltas as JSON files prefixed with its device ID and
// reads everyone else's.
type DirExchange struct {
	dir      string
	deviceID string
	seq      atomic.Int64
}

// NewDirExchange creates an exchange rooted at dir for the given device.
func NewDirExchange(dir, deviceID string) *DirExchange {
	return &DirExchange{dir: dir, deviceID: deviceID}
}

// Push writes the delta as a new file. The write goes through a temp file
// and rename so a concurrent reader never sees a partial JSON document.
func (x *DirExchange) Push(ctx context.Context, delta merge.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delta.IsEmpty() {
		return nil
	}
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("push delta: %w", err)
	}

	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("push delta: %w", err)
	}

	name := fmt.Sprintf("%s-%06d.json", x.deviceID, x.seq.Add(1))
	tmp, err := os.CreateTemp(x.dir, ".delta-*")
	if err != nil {
		return fmt.Errorf("push delta: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("push delta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("push delta: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(x.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("push delta: %w", err)
	}
	return nil
}

// Pull reads every delta file written by other devices, in filename order.
// Files that fail to parse are skipped; a sync directory may briefly hold
// partial uploads from slower replication layers.
func (x *DirExchange) Pull(ctx context.Context) ([]merge.Delta, error) {
	entries, err := os.ReadDir(x.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pull deltas: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasPrefix(name, x.deviceID+"-") {
			continue // our own writes
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var deltas []merge.Delta
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(x.dir, name))
		if err != nil {
			return nil, fmt.Errorf("pull deltas: %w", err)
		}
		var d merge.Delta
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		deltas = append(deltas, d)
	}
	return deltas, nil
}
