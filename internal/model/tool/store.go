package tool

// Store exposes tool lookup for services and handlers.
type Store interface {
	List() []Template
	FindByID(id string) (Template, bool)
}

// MemoryStore implements Store over a fixed slice.
type MemoryStore struct {
	items []Template
}

func NewMemoryStore(items []Template) *MemoryStore {
	return &MemoryStore{items: append([]Template(nil), items...)}
}

func (s *MemoryStore) List() []Template {
	return append([]Template(nil), s.items...)
}

func (s *MemoryStore) FindByID(id string) (Template, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Template{}, false
}
