package kraken

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// nonceState is the on-disk format. Timestamp is informational only.
type nonceState struct {
	LastNonce int64   `json:"last_nonce"`
	Timestamp float64 `json:"timestamp"`
}

// NonceManager issues strictly increasing nonces for one API key and
// persists the last issued value so restarts never go backwards.
// One manager per key; sharing a key across processes is not supported.
type NonceManager struct {
	mu    sync.Mutex
	path  string
	last  int64
	clock func() time.Time
}

// NewNonceManager loads persisted state from path, or seeds from the current
// time in milliseconds when no state exists yet.
func NewNonceManager(path string) (*NonceManager, error) {
	nm := &NonceManager{
		path:  path,
		clock: time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var st nonceState
		if jsonErr := json.Unmarshal(data, &st); jsonErr != nil || st.LastNonce <= 0 {
			// Corrupt state: jump to current time rather than risk reuse.
			slog.Warn("Nonce state unreadable, reseeding from clock",
				slog.String("path", path))
			nm.last = nm.clock().UnixMilli()
		} else {
			nm.last = st.LastNonce
		}
	case os.IsNotExist(err):
		nm.last = nm.clock().UnixMilli()
	default:
		return nil, fmt.Errorf("read nonce state: %w", err)
	}

	// Persist immediately so even a crash before the first request
	// leaves a floor on disk.
	if err := nm.persist(); err != nil {
		return nil, err
	}
	return nm, nil
}

// Next returns the next nonce: current unix milliseconds, or last+1 when the
// clock has not advanced. The value is persisted before it is returned.
func (nm *NonceManager) Next() (int64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	n := nm.clock().UnixMilli()
	if n <= nm.last {
		n = nm.last + 1
	}
	nm.last = n

	if err := nm.persist(); err != nil {
		return 0, err
	}
	return n, nil
}

// Peek returns the last issued nonce without advancing it.
func (nm *NonceManager) Peek() int64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.last
}

// Reset jumps the nonce forward by jump milliseconds past the current clock.
// Used after a persistent "invalid nonce" verdict to escape a poisoned range.
func (nm *NonceManager) Reset(jump time.Duration) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	next := nm.clock().Add(jump).UnixMilli()
	if next <= nm.last {
		next = nm.last + jump.Milliseconds()
	}
	nm.last = next

	slog.Warn("Nonce reset, jumped forward",
		slog.Int64("nonce", nm.last),
		slog.Duration("jump", jump))
	return nm.persist()
}

// persist writes state via a temp file and rename. Must hold the mutex.
func (nm *NonceManager) persist() error {
	st := nonceState{
		LastNonce: nm.last,
		Timestamp: float64(nm.clock().UnixNano()) / float64(time.Second),
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	tmp := nm.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(nm.path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write nonce state: %w", err)
	}
	return os.Rename(tmp, nm.path)
}
