package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSetSwap(t *testing.T) {
	g := NewGuard(42)
	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}
	g.Set(100)
	if old := g.Swap(7); old != 100 {
		t.Errorf("Swap returned %d, want 100", old)
	}
	if got := g.Get(); got != 7 {
		t.Errorf("Get() = %d, want 7", got)
	}
}

func TestGuardReadWrite(t *testing.T) {
	g := NewGuard([]int{1, 2, 3})
	g.Write(func(v *[]int) { *v = append(*v, 4) })

	var n int
	g.Read(func(v []int) { n = len(v) })
	if n != 4 {
		t.Errorf("len = %d, want 4", n)
	}
	if got := View(g, func(v []int) int { return v[3] }); got != 4 {
		t.Errorf("View() = %d, want 4", got)
	}
}

func TestUpdateConcurrent(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Update(g, func(v *int) int { *v++; return *v })
		}()
	}
	wg.Wait()
	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}

func TestMap(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)

	if v, ok := m.Load("a"); !ok || v != 1 {
		t.Errorf("Load(a) = %d, %v", v, ok)
	}
	if _, ok := m.Load("missing"); ok {
		t.Error("Load(missing) should fail")
	}

	created := 0
	v, loaded := m.LoadOrStore("b", func() int { created++; return 2 })
	if loaded || v != 2 {
		t.Errorf("LoadOrStore new = %d, %v", v, loaded)
	}
	v, loaded = m.LoadOrStore("b", func() int { created++; return 3 })
	if !loaded || v != 2 || created != 1 {
		t.Errorf("LoadOrStore existing = %d, %v (created %d)", v, loaded, created)
	}

	if m.Len() != 2 || len(m.Values()) != 2 {
		t.Errorf("Len() = %d", m.Len())
	}
	if old, ok := m.Delete("a"); !ok || old != 1 {
		t.Errorf("Delete(a) = %d, %v", old, ok)
	}
	m.Store("c", 30)
	if n := m.DeleteFunc(func(_ string, v int) bool { return v > 10 }); n != 1 {
		t.Errorf("DeleteFunc removed %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}
