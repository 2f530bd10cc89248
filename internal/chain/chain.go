// Package chain implements version-chain discovery over a storage backend.
//
// Every logical file owns an ordered run of immutable snapshots named
// <base>.ver1, <base>.ver2, ... with no gaps: creation always targets the
// first unoccupied index and entries are only ever removed by whole-chain
// cascades. The directory namespace itself is the index - depth is discovered
// by probing, never stored.
package chain

import (
	"context"
	"strconv"
	"strings"

	"github.com/versfs/versfs-go/internal/storage/types"
)

// Suffix is the on-disk version marker. Any entry whose name contains it is
// part of a chain and must never appear in mount-visible listings.
const Suffix = ".ver"

// EntryPath returns the backing path of version entry n for the given base
func EntryPath(base string, n int) string {
	return base + Suffix + strconv.Itoa(n)
}

// IsEntry reports whether a directory entry name belongs to a version chain
func IsEntry(name string) bool {
	return strings.Contains(name, Suffix)
}

// Resolver discovers chain depth by probing the backend
type Resolver struct {
	backend types.Backend
}

// NewResolver creates a resolver over the given backend
func NewResolver(backend types.Backend) *Resolver {
	return &Resolver{backend: backend}
}

// Resolve probes entries starting at 1 and returns the chain depth K and the
// path of the newest entry. K=0 means no version exists yet, and head is
// empty. Cost is O(K) existence probes.
func (r *Resolver) Resolve(ctx context.Context, base string) (int, string, error) {
	k := 0
	head := ""
	for {
		candidate := EntryPath(base, k+1)
		exists, err := r.backend.Exists(ctx, candidate)
		if err != nil {
			return 0, "", err
		}
		if !exists {
			return k, head, nil
		}
		k++
		head = candidate
	}
}

// NextEntry returns the path and index of the first unoccupied entry slot.
// Callers must hold the path's exclusive lock across NextEntry and the
// subsequent create, or two writers can claim the same slot.
func (r *Resolver) NextEntry(ctx context.Context, base string) (string, int, error) {
	k, _, err := r.Resolve(ctx, base)
	if err != nil {
		return "", 0, err
	}
	return EntryPath(base, k+1), k + 1, nil
}
