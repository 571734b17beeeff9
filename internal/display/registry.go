package display

import (
	"fmt"
	"sort"

	"github.com/uvstream/vrgdisplay/internal/host"
)

// Registry maps kind names to kinds. It is built once at startup and read
// afterwards.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry registers kinds, rejecting duplicate names.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		if _, dup := r.kinds[k.Name()]; dup {
			return nil, fmt.Errorf("display kind %q registered twice", k.Name())
		}
		r.kinds[k.Name()] = k
	}
	return r, nil
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Kinds returns all kinds sorted by name.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Open looks up name and initializes an instance.
func (r *Registry) Open(name string, h *host.Context, spec string, flags InitFlags) (Display, error) {
	k, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return k.Init(h, spec, flags)
}
