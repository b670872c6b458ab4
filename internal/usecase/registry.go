package usecase

import "pathvoice/internal/ports"

// registry holds the subscriptions of the current session generation.
// cancelAll cancels each handle once, empties the set and advances the
// generation; callbacks tagged with an older generation become no-ops.
type registry struct {
	generation uint64
	handles    []ports.Subscription
}

func (r *registry) add(handle ports.Subscription) {
	if handle == nil {
		return
	}
	r.handles = append(r.handles, handle)
}

func (r *registry) len() int {
	return len(r.handles)
}

func (r *registry) current(generation uint64) bool {
	return r.generation == generation
}

func (r *registry) cancelAll() {
	handles := r.handles
	r.handles = nil
	r.generation++
	for _, handle := range handles {
		handle.Cancel()
	}
}
