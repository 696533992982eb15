package registry

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFindAddAndGetByID(t *testing.T) {
	r, err := New(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	name := []byte("hostname")
	id := r.FindAdd(name)
	if id < 0 {
		t.Fatal("expected a valid id")
	}
	if again := r.FindAdd(name); again != id {
		t.Fatalf("FindAdd for existing name returned %d, want %d", again, id)
	}
	got, ok := r.GetByID(id)
	if !ok || !bytes.Equal(got, name) {
		t.Fatalf("GetByID = %q, %v", got, ok)
	}
}

func TestAddFailsWhenFull(t *testing.T) {
	r, _ := New(2, 4)
	if id := r.Add([]byte("aaaa")); id == -1 {
		t.Fatal("expected success on first add")
	}
	if id := r.Add([]byte("bbbb")); id == -1 {
		t.Fatal("expected success on second add")
	}
	if id := r.Add([]byte("cccc")); id != -1 {
		t.Fatalf("expected -1 when full, got %d", id)
	}
}

func TestRemoveRestoresCapacity(t *testing.T) {
	r, _ := New(2, 4)
	idA := r.Add([]byte("aaaa"))
	r.Add([]byte("bbbb"))
	if removed := r.Remove([]byte("aaaa")); removed != idA {
		t.Fatalf("Remove returned %d, want %d", removed, idA)
	}
	if r.Used() != 1 {
		t.Fatalf("Used = %d, want 1", r.Used())
	}
	if idC := r.Add([]byte("cccc")); idC == -1 {
		t.Fatal("expected slot to be reusable after remove")
	}
	if id := r.Find([]byte("aaaa")); id != -1 {
		t.Fatalf("removed name should not be findable, got id %d", id)
	}
}

func TestRemoveByIDClearsSlot(t *testing.T) {
	r, _ := New(3, 4)
	id := r.Add([]byte("aaaa"))
	if removed := r.RemoveByID(id); removed != id {
		t.Fatalf("RemoveByID = %d, want %d", removed, id)
	}
	if id := r.RemoveByID(id); id != -1 {
		t.Fatal("RemoveByID on an already-free id should return -1")
	}
}

func TestNewRejectsOversizeCapacity(t *testing.T) {
	if _, err := New(MaxCapacity+1, 8); err == nil {
		t.Fatal("expected error for capacity above MaxCapacity")
	}
}

// TestFreelistPermutationStress drives random fill/remove/re-add
// cycles and checks the freelist permutation invariant never breaks,
// with randomized fill/remove/re-add traffic.
func TestFreelistPermutationStress(t *testing.T) {
	const size = 37
	const namelen = 6
	r, err := New(size, namelen)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))

	randomName := func() []byte {
		b := make([]byte, namelen)
		for i := range b {
			b[i] = byte('!' + rng.Intn(90))
		}
		return b
	}

	for i := 0; i < size; i++ {
		if id := r.FindAdd(randomName()); id == -1 {
			t.Fatalf("unexpected failure filling slot %d", i)
		}
	}
	if r.Used() != size {
		t.Fatalf("Used = %d, want %d after fillup", r.Used(), size)
	}

	for iter := 0; iter < size*60; iter++ {
		id := rng.Intn(size)
		name, ok := r.GetByID(id)
		if !ok {
			continue
		}
		// A cleared slot is ClearByte throughout; a single '.' can occur
		// in a generated name.
		if bytes.Equal(name, bytes.Repeat([]byte{ClearByte}, namelen)) {
			t.Fatalf("GetByID returned a cleared-looking name for occupied id %d: %q", id, name)
		}
		if rng.Intn(2) == 0 {
			if removed := r.RemoveByID(id); removed != id {
				t.Fatalf("RemoveByID(%d) = %d", id, removed)
			}
			if readded := r.Add(name); readded == -1 {
				t.Fatalf("re-add after RemoveByID(%d) failed", id)
			}
		}
		assertFreelistPermutation(t, r)
	}
}

func assertFreelistPermutation(t *testing.T, r *Registry) {
	t.Helper()
	seen := make(map[int]bool, r.size)
	for _, id := range r.freelist {
		if seen[id] {
			t.Fatalf("freelist contains duplicate id %d: %v", id, r.freelist)
		}
		seen[id] = true
	}
	if len(seen) != r.size {
		t.Fatalf("freelist is not a full permutation: saw %d of %d ids", len(seen), r.size)
	}
}
