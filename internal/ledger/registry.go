package ledger

import "fmt"

// Registry allocates pools with sequential ids starting at 0.
type Registry struct {
	pools []Pool
}

// create appends a zero-valued pool and returns it.
func (r *Registry) create() *Pool {
	r.pools = append(r.pools, Pool{ID: uint64(len(r.pools))})
	return &r.pools[len(r.pools)-1]
}

// lookup returns the live pool record for id.
func (r *Registry) lookup(id uint64) (*Pool, error) {
	if id >= uint64(len(r.pools)) {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return &r.pools[id], nil
}

// Len returns the number of pools created so far.
func (r *Registry) Len() int {
	return len(r.pools)
}

func (r *Registry) snapshot() []Pool {
	out := make([]Pool, len(r.pools))
	copy(out, r.pools)
	return out
}
