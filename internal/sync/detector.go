package sync

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openmirror/treesync/internal/storage"
)

// diffStates compares two tree snapshots and reports the changes that
// turn prev into next, in deterministic path order. Deletes carry a
// tombstone: zero size, empty hash, detection time as the timestamp.
func diffStates(sourceID string, prev, next map[string]*storage.FileMetadata, now time.Time) []*FileChangeInfo {
	prevPaths := mapset.NewThreadUnsafeSet[string]()
	for p := range prev {
		prevPaths.Add(p)
	}
	nextPaths := mapset.NewThreadUnsafeSet[string]()
	for p := range next {
		nextPaths.Add(p)
	}

	changes := make([]*FileChangeInfo, 0)

	for p := range nextPaths.Difference(prevPaths).Iter() {
		changes = append(changes, &FileChangeInfo{
			Path:           p,
			Type:           ChangeCreate,
			SourceTargetID: sourceID,
			Metadata:       next[p],
		})
	}

	for p := range nextPaths.Intersect(prevPaths).Iter() {
		if prev[p].ContentHash == next[p].ContentHash {
			continue
		}
		changes = append(changes, &FileChangeInfo{
			Path:           p,
			Type:           ChangeModify,
			SourceTargetID: sourceID,
			Metadata:       next[p],
		})
	}

	for p := range prevPaths.Difference(nextPaths).Iter() {
		changes = append(changes, &FileChangeInfo{
			Path:           p,
			Type:           ChangeDelete,
			SourceTargetID: sourceID,
			Metadata: &storage.FileMetadata{
				Path:         p,
				Type:         storage.FileTypeFile,
				LastModified: now,
			},
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}
