package syncx

// Map is a guarded map keyed by session or client id.
type Map[K comparable, V any] struct {
	g *RWGuard[map[K]V]
}

// NewMap creates an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{g: NewGuard(make(map[K]V))}
}

// Load returns the value for k.
func (m *Map[K, V]) Load(k K) (V, bool) {
	type res struct {
		v  V
		ok bool
	}
	r := View(m.g, func(mm map[K]V) res {
		v, ok := mm[k]
		return res{v, ok}
	})
	return r.v, r.ok
}

// Store sets k to v.
func (m *Map[K, V]) Store(k K, v V) {
	m.g.Write(func(mm *map[K]V) { (*mm)[k] = v })
}

// LoadOrStore returns the existing value for k, or stores and returns the
// result of create. create runs under the write lock.
func (m *Map[K, V]) LoadOrStore(k K, create func() V) (V, bool) {
	type res struct {
		v      V
		loaded bool
	}
	r := Update(m.g, func(mm *map[K]V) res {
		if v, ok := (*mm)[k]; ok {
			return res{v, true}
		}
		v := create()
		(*mm)[k] = v
		return res{v, false}
	})
	return r.v, r.loaded
}

// Delete removes k and returns the removed value.
func (m *Map[K, V]) Delete(k K) (V, bool) {
	type res struct {
		v  V
		ok bool
	}
	r := Update(m.g, func(mm *map[K]V) res {
		v, ok := (*mm)[k]
		delete(*mm, k)
		return res{v, ok}
	})
	return r.v, r.ok
}

// DeleteFunc removes every entry for which drop returns true and returns how
// many were removed.
func (m *Map[K, V]) DeleteFunc(drop func(K, V) bool) int {
	return Update(m.g, func(mm *map[K]V) int {
		n := 0
		for k, v := range *mm {
			if drop(k, v) {
				delete(*mm, k)
				n++
			}
		}
		return n
	})
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return View(m.g, func(mm map[K]V) int { return len(mm) })
}

// Values returns a snapshot of the stored values in no particular order.
func (m *Map[K, V]) Values() []V {
	return View(m.g, func(mm map[K]V) []V {
		out := make([]V, 0, len(mm))
		for _, v := range mm {
			out = append(out, v)
		}
		return out
	})
}
