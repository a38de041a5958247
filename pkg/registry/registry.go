package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// ErrUnknownCommand indicates a command name not present in the registry.
var ErrUnknownCommand = errors.New("registry: unknown command")

// Layer is one capability's worth of descriptors, fixed at construction.
type Layer struct {
	// Name identifies the layer in conflict reports.
	Name string

	// Descriptors are the layer's commands.
	Descriptors []Descriptor
}

// ConflictError reports two descriptors claiming the same name or the
// same (RCA, direction) pair.
type ConflictError struct {
	// Layer is the later layer, the one that lost.
	Layer string

	// Name is the conflicting command.
	Name string

	// Prior is the command already holding the claim.
	Prior string

	// RCA and Dir identify the contested register, for address
	// conflicts.
	RCA wire.RCA
	Dir wire.Direction

	// NameClash is true for name conflicts, false for address conflicts.
	NameClash bool
}

func (e *ConflictError) Error() string {
	if e.NameClash {
		return fmt.Sprintf("registry: layer %s redefines command %s", e.Layer, e.Name)
	}
	return fmt.Sprintf("registry: layer %s command %s claims %s RCA 0x%05X already held by %s",
		e.Layer, e.Name, e.Dir, uint32(e.RCA), e.Prior)
}

// addrKey identifies one register claim.
type addrKey struct {
	rca wire.RCA
	dir wire.Direction
}

// Registry is an immutable name-to-descriptor mapping. It is safe to
// share between any number of connections and goroutines.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

// Compose unions the layers into a registry. Later layers may not
// redefine a command name or re-claim an (RCA, direction) pair taken by
// an earlier layer; doing so fails with a *ConflictError.
func Compose(layers ...Layer) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor)}
	claims := make(map[addrKey]string)

	for _, layer := range layers {
		for _, d := range layer.Descriptors {
			if err := d.validate(); err != nil {
				return nil, fmt.Errorf("layer %s: %w", layer.Name, err)
			}
			if _, exists := r.byName[d.Name]; exists {
				return nil, &ConflictError{
					Layer:     layer.Name,
					Name:      d.Name,
					Prior:     d.Name,
					NameClash: true,
				}
			}
			key := addrKey{rca: d.RCA, dir: d.Dir}
			if prior, claimed := claims[key]; claimed {
				return nil, &ConflictError{
					Layer: layer.Name,
					Name:  d.Name,
					Prior: prior,
					RCA:   d.RCA,
					Dir:   d.Dir,
				}
			}
			claims[key] = d.Name
			r.byName[d.Name] = d
			r.names = append(r.names, d.Name)
		}
	}
	return r, nil
}

// MustCompose is Compose for layer sets known correct at build time.
func MustCompose(layers ...Layer) *Registry {
	r, err := Compose(layers...)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve looks up a command by name. The connection is never touched:
// an unknown name fails immediately.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return d, nil
}

// Has reports whether the command exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns all command names, sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.names...)
	sort.Strings(names)
	return names
}

// Len returns the number of commands.
func (r *Registry) Len() int { return len(r.byName) }
