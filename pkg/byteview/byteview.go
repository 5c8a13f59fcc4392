// Package byteview provides the immutable value type shared by every layer
// of kvmesh: the local store, the single-flight loader, and the peer wire
// protocol all pass ByteView around instead of a raw []byte so that no
// caller can observe mutation through a value it was handed back.
//
// A ByteView is deliberately small: a byte slice and nothing else. Callers
// needing a string get a copy; callers needing a []byte get a copy. The
// backing array is never handed out directly.
package byteview

// ByteView holds an immutable view of bytes. The zero value is an empty,
// valid view.
type ByteView struct {
	b []byte
}

// New copies b into a new ByteView. The caller's slice is not retained.
func New(b []byte) ByteView {
	return ByteView{b: cloneBytes(b)}
}

// NewFromString copies s into a new ByteView.
func NewFromString(s string) ByteView {
	return ByteView{b: []byte(s)}
}

// Len returns the number of bytes in the view. This is the unit used by
// LRUStore's byte accounting (len(key) + value.Len()).
func (v ByteView) Len() int {
	return len(v.b)
}

// ByteSlice returns a copy of the underlying bytes. Mutating the result
// never affects the ByteView or any other copy of it.
func (v ByteView) ByteSlice() []byte {
	return cloneBytes(v.b)
}

// String returns the view's contents as a string.
func (v ByteView) String() string {
	return string(v.b)
}

// At returns the byte at index i of the view.
func (v ByteView) At(i int) byte {
	return v.b[i]
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
