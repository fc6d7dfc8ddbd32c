package vm

import (
	"errors"
	"fmt"
	"sync"
)

// Heap owns the objects that Ptr values refer to. The interpreter reaches
// heap memory only through this interface.
type Heap interface {
	// Alloc creates an object with fields slots, all Null.
	Alloc(fields int) (Handle, error)
	// Load reads a field of the object behind h.
	Load(h Handle, field int) (Value, error)
	// Store writes a field of the object behind h.
	Store(h Handle, field int, v Value) error
}

var (
	ErrInvalidHandle = errors.New("invalid heap handle")
	ErrFieldIndex    = errors.New("field index out of range")
	ErrHeapExhausted = errors.New("heap object limit reached")
)

// ---------------------------------------------------------------------------
// Arena: the default Heap
// ---------------------------------------------------------------------------

// Arena is a growable Heap that never frees. Handles are slot index + 1, so
// the zero Handle is never valid. Safe for concurrent use.
type Arena struct {
	mu      sync.RWMutex
	objects [][]Value
	limit   int
}

// NewArena creates an empty arena. maxObjects <= 0 means unbounded.
func NewArena(maxObjects int) *Arena {
	return &Arena{limit: maxObjects}
}

// Alloc implements Heap.
func (a *Arena) Alloc(fields int) (Handle, error) {
	if fields < 0 {
		return 0, fmt.Errorf("%w: %d fields", ErrFieldIndex, fields)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && len(a.objects) >= a.limit {
		return 0, ErrHeapExhausted
	}
	a.objects = append(a.objects, make([]Value, fields))
	return Handle(len(a.objects)), nil
}

// Load implements Heap.
func (a *Arena) Load(h Handle, field int) (Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, err := a.object(h, field)
	if err != nil {
		return Null, err
	}
	return obj[field], nil
}

// Store implements Heap.
func (a *Arena) Store(h Handle, field int, v Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, err := a.object(h, field)
	if err != nil {
		return err
	}
	obj[field] = v
	return nil
}

// Len returns the number of live objects.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}

// Fields returns the field count of the object behind h.
func (a *Arena) Fields(h Handle) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h == 0 || uint64(h) > uint64(len(a.objects)) {
		return 0, false
	}
	return len(a.objects[h-1]), true
}

// object must be called with a.mu held.
func (a *Arena) object(h Handle, field int) ([]Value, error) {
	if h == 0 || uint64(h) > uint64(len(a.objects)) {
		return nil, fmt.Errorf("%w: #%d", ErrInvalidHandle, h)
	}
	obj := a.objects[h-1]
	if field < 0 || field >= len(obj) {
		return nil, fmt.Errorf("%w: field %d of #%d (%d fields)", ErrFieldIndex, field, h, len(obj))
	}
	return obj, nil
}
