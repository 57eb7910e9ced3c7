package cli

import (
	"context"
	"sync"

	"github.com/kinloop/kinloop/internal/common"
)

// videoIndex maps shared video ids to their pairing group. The media
// layer proper lives outside this module; the index carries just enough
// state for report routing and local block marks.
type videoIndex struct {
	mu      sync.Mutex
	groups  map[string]string
	blocked map[string]bool
}

func newVideoIndex() *videoIndex {
	return &videoIndex{
		groups:  make(map[string]string),
		blocked: make(map[string]bool),
	}
}

func (v *videoIndex) Register(videoID, groupID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.groups[videoID] = groupID
}

func (v *videoIndex) GroupForVideo(ctx context.Context, videoID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[videoID]
	if !ok {
		return "", common.ErrorNotFound
	}
	return g, nil
}

func (v *videoIndex) MarkBlocked(ctx context.Context, videoID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.blocked[videoID] = true
	return nil
}

func (v *videoIndex) IsBlocked(videoID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blocked[videoID]
}
