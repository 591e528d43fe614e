package presence

// registry holds the joined topics in join order.
type registry struct {
	topics map[string]*Topic
	order  []string
}

func newRegistry() *registry {
	return &registry{topics: make(map[string]*Topic)}
}

func (r *registry) get(canvasID string) (*Topic, bool) {
	t, ok := r.topics[canvasID]
	return t, ok
}

// add stores t unless a topic for the same canvas exists.
func (r *registry) add(t *Topic) bool {
	if _, ok := r.topics[t.CanvasID]; ok {
		return false
	}
	r.topics[t.CanvasID] = t
	r.order = append(r.order, t.CanvasID)
	return true
}

func (r *registry) remove(canvasID string) (*Topic, bool) {
	t, ok := r.topics[canvasID]
	if !ok {
		return nil, false
	}
	delete(r.topics, canvasID)
	for i, id := range r.order {
		if id == canvasID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return t, true
}

func (r *registry) all() []*Topic {
	out := make([]*Topic, len(r.order))
	for i, id := range r.order {
		out[i] = r.topics[id]
	}
	return out
}

func (r *registry) ids() []string {
	return append([]string(nil), r.order...)
}

func (r *registry) len() int {
	return len(r.order)
}

func (r *registry) clear() {
	r.topics = make(map[string]*Topic)
	r.order = nil
}
