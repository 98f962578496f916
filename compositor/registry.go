package compositor

import (
	"maps"
	"slices"

	"github.com/sirupsen/logrus"
)

// Global is something advertised to clients
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
	// Whatever backs the global, for example the output or the renderer
	Data any
}

// Registry is the list of globals clients can bind to. Names are never reused
type Registry struct {
	globals map[uint32]Global
	next    uint32
}

func NewRegistry() *Registry {
	return &Registry{globals: make(map[uint32]Global)}
}

func (r *Registry) Register(iface string, version uint32, data any) uint32 {
	r.next++
	r.globals[r.next] = Global{Name: r.next, Interface: iface, Version: version, Data: data}
	logrus.WithFields(logrus.Fields{"name": r.next, "interface": iface}).Debugln("Registered global")
	return r.next
}

// Unregister removes a global. Returns false if it wasn't registered
func (r *Registry) Unregister(name uint32) bool {
	g, ok := r.globals[name]
	if !ok {
		return false
	}
	delete(r.globals, name)
	logrus.WithFields(logrus.Fields{"name": name, "interface": g.Interface}).Debugln("Unregistered global")
	return true
}

func (r *Registry) Get(name uint32) (Global, bool) {
	g, ok := r.globals[name]
	return g, ok
}

// Globals returns all globals ordered by name
func (r *Registry) Globals() []Global {
	names := slices.Sorted(maps.Keys(r.globals))
	out := make([]Global, 0, len(names))
	for _, name := range names {
		out = append(out, r.globals[name])
	}
	return out
}

// Find returns all globals of one interface
func (r *Registry) Find(iface string) []Global {
	var out []Global
	for _, g := range r.Globals() {
		if g.Interface == iface {
			out = append(out, g)
		}
	}
	return out
}
