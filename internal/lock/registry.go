package lock

import "sync"

// Registry shares one file lock per environment among the goroutines of a
// process. The file lock is taken by the first holder and released by the
// last, so concurrent jobs inside one scheduler may write to the same target
// while other processes are kept out.
type Registry struct {
	dir  string
	mu   sync.Mutex
	held map[string]*shared
}

type shared struct {
	lock *Lock
	refs int
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, held: map[string]*shared{}}
}

// Acquire returns a release func for name.
func (r *Registry) Acquire(name string) (func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.held[name]
	if !ok {
		l, err := Acquire(r.dir, name)
		if err != nil {
			return nil, err
		}
		entry = &shared{lock: l}
		r.held[name] = entry
	}
	entry.refs++

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = r.release(name) })
		return err
	}, nil
}

func (r *Registry) release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.held[name]
	if !ok {
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		return nil
	}
	delete(r.held, name)
	return entry.lock.Release()
}
