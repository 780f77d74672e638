package cdp

import (
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/restriction_watcher/internal/types"
)

// TabRegistry maps CDP target IDs to tab metadata.
type TabRegistry struct {
	tabs map[target.ID]*types.TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*types.TabInfo)}
}

// Register records a tab, keeping the original attach time if it is known.
func (r *TabRegistry) Register(targetID target.ID, url, title string) types.TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.tabs[targetID]
	if !ok {
		info = &types.TabInfo{
			TargetID:   string(targetID),
			BrowserID:  types.BrowserIDFromTargetID(string(targetID)),
			AttachedAt: time.Now().UTC(),
		}
		r.tabs[targetID] = info
	}
	info.URL = url
	if title != "" {
		info.Title = title
	}
	return *info
}

func (r *TabRegistry) Get(targetID target.ID) (types.TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	if !ok {
		return types.TabInfo{}, false
	}
	return *info, true
}

func (r *TabRegistry) GetByStringID(tabID string) (types.TabInfo, bool) {
	return r.Get(target.ID(tabID))
}

// List returns all tabs ordered by attach time.
func (r *TabRegistry) List() []types.TabInfo {
	r.mu.RLock()
	out := make([]types.TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AttachedAt.Equal(out[j].AttachedAt) {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].AttachedAt.Before(out[j].AttachedAt)
	})
	return out
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
