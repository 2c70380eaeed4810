package solution

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved names used by the solver core.
const (
	Current   = "solution"
	BackupTag = "_backup"
	ACReal    = "ssac_real"
	ACImag    = "ssac_imag"
	NoiseReal = "noise_real"
	NoiseImag = "noise_imag"
)

// Store keeps named value vectors of a fixed length. Vectors returned by
// Get keep their backing array across Set, Copy and Restore so equation
// views stay valid.
type Store struct {
	size int
	data map[string][]float64
}

func NewStore(size int) *Store {
	return &Store{size: size, data: make(map[string][]float64)}
}

func (s *Store) Size() int { return s.size }

func (s *Store) Has(name string) bool {
	_, ok := s.data[name]
	return ok
}

// Get returns the named vector, creating a zero vector if needed.
func (s *Store) Get(name string) []float64 {
	v, ok := s.data[name]
	if !ok {
		v = make([]float64, s.size)
		s.data[name] = v
	}
	return v
}

// Lookup returns the named vector without creating it.
func (s *Store) Lookup(name string) ([]float64, bool) {
	v, ok := s.data[name]
	return v, ok
}

func (s *Store) Set(name string, values []float64) error {
	if len(values) != s.size {
		return fmt.Errorf("solution %q: length %d, want %d", name, len(values), s.size)
	}
	copy(s.Get(name), values)
	return nil
}

// Copy overwrites dst with src.
func (s *Store) Copy(src, dst string) error {
	v, ok := s.data[src]
	if !ok {
		return fmt.Errorf("solution %q does not exist", src)
	}
	copy(s.Get(dst), v)
	return nil
}

func (s *Store) Delete(name string) {
	delete(s.data, name)
}

// Names returns the stored names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.data))
	for k := range s.data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Backup copies every solution not carrying suffix to name+suffix.
func (s *Store) Backup(suffix string) {
	for _, name := range s.Names() {
		if strings.HasSuffix(name, suffix) {
			continue
		}
		copy(s.Get(name+suffix), s.data[name])
	}
}

// Restore copies every name+suffix back onto name.
func (s *Store) Restore(suffix string) {
	for _, name := range s.Names() {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		copy(s.Get(strings.TrimSuffix(name, suffix)), s.data[name])
	}
}
