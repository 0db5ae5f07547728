package session

// replication records, per networked entity, which clients have been told
// it exists. Moves and departures go only to informed clients, so a
// client never hears about an entity before its join.
type replication struct {
	informed map[int]map[int]bool
}

func newReplication() *replication {
	return &replication{informed: make(map[int]map[int]bool)}
}

// inform marks client as told about entity.
func (r *replication) inform(entity, client int) {
	set, ok := r.informed[entity]
	if !ok {
		set = make(map[int]bool)
		r.informed[entity] = set
	}
	set[client] = true
}

// knows reports whether client was told about entity.
func (r *replication) knows(entity, client int) bool {
	return r.informed[entity][client]
}

// forget drops an entity's record.
func (r *replication) forget(entity int) {
	delete(r.informed, entity)
}

// dropClient removes a client from every record.
func (r *replication) dropClient(client int) {
	for _, set := range r.informed {
		delete(set, client)
	}
}

// reset drops every record.
func (r *replication) reset() {
	r.informed = make(map[int]map[int]bool)
}
