// Package factory holds the static registry of provider adapters and
// constructs clients from account connection data.
package factory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/provider/amazon"
	"github.com/zgpcy/cloudspend/internal/provider/azure"
	"github.com/zgpcy/cloudspend/internal/provider/bluemix"
	"github.com/zgpcy/cloudspend/internal/provider/cloudsigma"
	"github.com/zgpcy/cloudspend/internal/provider/digitalocean"
	"github.com/zgpcy/cloudspend/internal/provider/heroku"
	"github.com/zgpcy/cloudspend/internal/provider/jelastic"
	"github.com/zgpcy/cloudspend/internal/provider/nexmo"
	"github.com/zgpcy/cloudspend/internal/provider/ovh"
	"github.com/zgpcy/cloudspend/internal/provider/rackspace"
)

// ErrUnknownProvider is returned for names that are not registered
var ErrUnknownProvider = errors.New("unknown provider")

// Constructor builds a client from values that already passed provider.Bind
type Constructor func(values provider.Values, deps provider.Deps) (provider.Client, error)

// Registration is one adapter entry of the registry
type Registration struct {
	Name   string
	Kind   provider.Kind
	Params []provider.ParamSpec
	New    Constructor
}

// Factory resolves provider names to adapters
type Factory struct {
	mu            sync.RWMutex
	deps          provider.Deps
	registrations map[string]Registration
}

// New creates an empty factory handing deps to every constructed client
func New(deps provider.Deps) *Factory {
	return &Factory{
		deps:          deps.WithDefaults(),
		registrations: make(map[string]Registration),
	}
}

// Default creates a factory with every supported adapter registered
func Default(deps provider.Deps) *Factory {
	f := New(deps)
	for _, r := range Registrations() {
		if err := f.Register(r); err != nil {
			panic(err)
		}
	}
	return f
}

// Registrations returns the static adapter table
func Registrations() []Registration {
	return []Registration{
		{Name: amazon.Name, Kind: provider.KindIAAS, Params: amazon.Params(), New: adapt(amazon.New)},
		{Name: azure.Name, Kind: provider.KindIAAS, Params: azure.Params(), New: adapt(azure.New)},
		{Name: bluemix.Name, Kind: provider.KindPAAS, Params: bluemix.Params(), New: adapt(bluemix.New)},
		{Name: cloudsigma.Name, Kind: provider.KindIAAS, Params: cloudsigma.Params(), New: adapt(cloudsigma.New)},
		{Name: digitalocean.Name, Kind: provider.KindIAAS, Params: digitalocean.Params(), New: adapt(digitalocean.New)},
		{Name: heroku.Name, Kind: provider.KindPAAS, Params: heroku.Params(), New: adapt(heroku.New)},
		{Name: jelastic.Name, Kind: provider.KindPAAS, Params: jelastic.Params(), New: adapt(jelastic.New)},
		{Name: nexmo.Name, Kind: provider.KindSIP, Params: nexmo.Params(), New: adapt(nexmo.New)},
		{Name: ovh.Name, Kind: provider.KindIAAS, Params: ovh.Params(), New: adapt(ovh.New)},
		{Name: rackspace.Name, Kind: provider.KindIAAS, Params: rackspace.Params(), New: adapt(rackspace.New)},
	}
}

// adapt turns a concrete adapter constructor into a Constructor without
// leaking typed nil clients on error
func adapt[C provider.Client](fn func(provider.Values, provider.Deps) (C, error)) Constructor {
	return func(values provider.Values, deps provider.Deps) (provider.Client, error) {
		c, err := fn(values, deps)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Register adds r to the registry
func (f *Factory) Register(r Registration) error {
	if r.Name == "" || r.New == nil {
		return fmt.Errorf("registration needs a name and a constructor")
	}
	for _, p := range r.Params {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", r.Name, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.registrations[r.Name]; exists {
		return fmt.Errorf("provider already registered: %s", r.Name)
	}
	f.registrations[r.Name] = r
	return nil
}

// Providers returns the descriptor of every registered adapter, sorted by name
func (f *Factory) Providers() []provider.Descriptor {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]provider.Descriptor, 0, len(f.registrations))
	for _, r := range f.registrations {
		params := make([]provider.ParamSpec, len(r.Params))
		copy(params, r.Params)
		out = append(out, provider.Descriptor{Name: r.Name, Kind: r.Kind, Params: params})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Descriptor returns the descriptor of one adapter
func (f *Factory) Descriptor(name string) (provider.Descriptor, error) {
	f.mu.RLock()
	r, ok := f.registrations[name]
	f.mu.RUnlock()
	if !ok {
		return provider.Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return provider.Descriptor{Name: r.Name, Kind: r.Kind, Params: r.Params}, nil
}

// PubDataModel returns the union of every non-secret param across all
// adapters. A key declared secret by any adapter is excluded everywhere.
// Among the remaining keys the first declaration wins; every field is optional.
func (f *Factory) PubDataModel() []provider.ParamSpec {
	descs := f.Providers()
	secret := make(map[string]bool)
	for _, d := range descs {
		for _, p := range d.Params {
			if p.Type == provider.ParamSecret {
				secret[p.Key] = true
			}
		}
	}

	seen := make(map[string]bool)
	var fields []provider.ParamSpec
	for _, d := range descs {
		for _, p := range d.Params {
			if secret[p.Key] || seen[p.Key] {
				continue
			}
			seen[p.Key] = true
			fields = append(fields, p)
		}
	}
	return fields
}

// Redact keeps only the keys of data that belong to the public data model
func (f *Factory) Redact(data map[string]string) map[string]string {
	public := make(map[string]bool)
	for _, p := range f.PubDataModel() {
		public[p.Key] = true
	}
	out := make(map[string]string)
	for k, v := range data {
		if public[k] {
			out[k] = v
		}
	}
	return out
}

// Bind checks data against the params of the named adapter
func (f *Factory) Bind(name string, data map[string]string) (provider.Values, error) {
	f.mu.RLock()
	r, ok := f.registrations[name]
	f.mu.RUnlock()
	if !ok {
		return provider.Values{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return provider.Bind(r.Name, r.Params, data)
}

// GetClient validates data against the named adapter and constructs a client.
// It returns ErrUnknownProvider for unregistered names and a
// *provider.ValidationError when data does not match the declared params.
func (f *Factory) GetClient(name string, data map[string]string) (provider.Client, error) {
	values, err := f.Bind(name, data)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	r := f.registrations[name]
	f.mu.RUnlock()

	client, err := r.New(values, f.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}
	return client, nil
}
