package embedder

import "sync"

// LoopHolder keeps a loop alive while it is referenced. The count is a plain
// reference count; when an Unref brings it back to zero, release runs.
type LoopHolder struct {
	mu      sync.Mutex
	count   int
	release func()
}

func NewLoopHolder(release func()) *LoopHolder {
	return &LoopHolder{release: release}
}

func (h *LoopHolder) Ref() {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
}

// Unref drops one reference. Unref without a matching Ref is ignored.
func (h *LoopHolder) Unref() {
	h.mu.Lock()
	if h.count == 0 {
		h.mu.Unlock()
		return
	}
	h.count--
	idle := h.count == 0
	h.mu.Unlock()

	if idle && h.release != nil {
		h.release()
	}
}

func (h *LoopHolder) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
