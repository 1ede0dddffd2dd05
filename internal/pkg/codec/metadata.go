package codec

import (
	"github.com/pkg/errors"
)

// CallIndex is the two-byte (pallet, call) dispatch index.
type CallIndex [2]byte

type CallMeta struct {
	Section string
	Method  string
}

// Metadata resolves dispatch indices against the connected chain's runtime.
// The mapping differs per chain and per runtime upgrade.
type Metadata interface {
	// LookupCall returns the section/method for a dispatch index. The boolean
	// is false for indices the runtime (or this registry) does not know.
	LookupCall(index CallIndex) (CallMeta, bool)

	// CallIndex is the reverse lookup used when encoding.
	CallIndex(section, method string) (CallIndex, error)
}

// Registry is a static Metadata implementation. Chain connections populate it
// from runtime metadata at connect time; tests populate it by hand.
type Registry struct {
	byIndex map[CallIndex]CallMeta
	byName  map[string]CallIndex
}

func NewRegistry() *Registry {
	return &Registry{
		byIndex: make(map[CallIndex]CallMeta),
		byName:  make(map[string]CallIndex),
	}
}

func (r *Registry) Register(index CallIndex, section, method string) {
	meta := CallMeta{Section: section, Method: method}
	r.byIndex[index] = meta
	r.byName[section+"."+method] = index
}

func (r *Registry) LookupCall(index CallIndex) (CallMeta, bool) {
	meta, ok := r.byIndex[index]
	return meta, ok
}

func (r *Registry) CallIndex(section, method string) (CallIndex, error) {
	index, ok := r.byName[section+"."+method]
	if !ok {
		return CallIndex{}, errors.Errorf("unknown call %s.%s", section, method)
	}
	return index, nil
}
