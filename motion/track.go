package motion

import (
	"sort"
)

// Track is ordered keyframe store indexed by frame number, no duplicate frames
type Track[K any] struct {
	frames []uint32
	keys   map[uint32]K
}

func NewTrack[K any]() *Track[K] {
	return &Track[K]{keys: make(map[uint32]K)}
}

func (t *Track[K]) lazyInit() {
	if t.keys == nil {
		t.keys = make(map[uint32]K)
	}
}

// Insert overwrites keyframe with same frame
func (t *Track[K]) Insert(frame uint32, k K) {
	t.lazyInit()
	if _, exists := t.keys[frame]; !exists {
		i := sort.Search(len(t.frames), func(i int) bool { return t.frames[i] >= frame })
		t.frames = append(t.frames, 0)
		copy(t.frames[i+1:], t.frames[i:])
		t.frames[i] = frame
	}
	t.keys[frame] = k
}

func (t *Track[K]) Remove(frame uint32) bool {
	if _, exists := t.keys[frame]; !exists {
		return false
	}
	delete(t.keys, frame)
	i := sort.Search(len(t.frames), func(i int) bool { return t.frames[i] >= frame })
	t.frames = append(t.frames[:i], t.frames[i+1:]...)
	return true
}

func (t *Track[K]) FindExact(frame uint32) (K, bool) {
	k, ok := t.keys[frame]
	return k, ok
}

// SearchSurrounding returns closest keyframe strictly before and strictly after frame
func (t *Track[K]) SearchSurrounding(frame uint32) (prev, next uint32, hasPrev, hasNext bool) {
	i := sort.Search(len(t.frames), func(i int) bool { return t.frames[i] >= frame })
	if i > 0 {
		prev, hasPrev = t.frames[i-1], true
	}
	if i < len(t.frames) && t.frames[i] == frame {
		i++
	}
	if i < len(t.frames) {
		next, hasNext = t.frames[i], true
	}
	return
}

// LastAtOrBefore returns keyframe with greatest frame <= frame
func (t *Track[K]) LastAtOrBefore(frame uint32) (uint32, K, bool) {
	i := sort.Search(len(t.frames), func(i int) bool { return t.frames[i] > frame })
	if i == 0 {
		var zero K
		return 0, zero, false
	}
	f := t.frames[i-1]
	return f, t.keys[f], true
}

func (t *Track[K]) Len() int {
	return len(t.frames)
}

func (t *Track[K]) MaxFrame() uint32 {
	if len(t.frames) == 0 {
		return 0
	}
	return t.frames[len(t.frames)-1]
}

// Frames returns keyframe indices in ascending order, caller must not modify result
func (t *Track[K]) Frames() []uint32 {
	return t.frames
}

func (t *Track[K]) Each(cb func(frame uint32, k K)) {
	for _, f := range t.frames {
		cb(f, t.keys[f])
	}
}

func (t *Track[K]) Clone() *Track[K] {
	c := &Track[K]{
		frames: append([]uint32(nil), t.frames...),
		keys:   make(map[uint32]K, len(t.keys)),
	}
	for f, k := range t.keys {
		c.keys[f] = k
	}
	return c
}

// MergeFrom copies every keyframe of other, colliding frames are replaced
func (t *Track[K]) MergeFrom(other *Track[K]) {
	other.Each(t.Insert)
}

func coefficient(prev, next, frame uint32) float32 {
	if next <= prev {
		return 0
	}
	return float32(frame-prev) / float32(next-prev)
}
