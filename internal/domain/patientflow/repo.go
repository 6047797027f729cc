package patientflow

import (
	"context"
	"sync"
)

// Repository persists patient records outside the engine. The engine stays
// the source of truth while the process runs; the repository lets a restart
// pick the floor up where it was.
type Repository interface {
	Save(ctx context.Context, p *Patient) error
	// List returns every stored patient in admission order.
	List(ctx context.Context) ([]Patient, error)
	// ReplaceAll swaps the stored collection for list.
	ReplaceAll(ctx context.Context, list []Patient) error
}

// memoryRepo keeps copies in process memory. Used when no external store is
// configured and in tests.
type memoryRepo struct {
	mu    sync.Mutex
	byID  map[string]*Patient
	order []string
}

// NewMemoryRepo returns a Repository backed by process memory.
func NewMemoryRepo() Repository {
	return &memoryRepo{byID: make(map[string]*Patient)}
}

func (r *memoryRepo) Save(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = p.Clone()
	return nil
}

func (r *memoryRepo) List(_ context.Context) ([]Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Patient, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id].Clone())
	}
	return out, nil
}

func (r *memoryRepo) ReplaceAll(_ context.Context, list []Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*Patient, len(list))
	r.order = r.order[:0]
	for i := range list {
		p := list[i].Clone()
		if _, ok := r.byID[p.ID]; !ok {
			r.order = append(r.order, p.ID)
		}
		r.byID[p.ID] = p
	}
	return nil
}
