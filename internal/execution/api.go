package execution

import (
	"kumascript/internal/common/naming"
)

// SubAPI is a namespaced bundle of helpers installed into a Context.
type SubAPI interface {
	// Members returns the values the namespace exposes, keyed by every
	// name variant.
	Members() map[string]interface{}
}

// Kind constructs a SubAPI bound to its owning context.
type Kind func(ec *Context) SubAPI

// BaseAPI is the common implementation sub-API variants embed.
type BaseAPI struct {
	ec      *Context
	members map[string]interface{}
}

// NewBaseAPI binds members to ec
func NewBaseAPI(ec *Context, members map[string]interface{}) *BaseAPI {
	b := &BaseAPI{ec: ec, members: make(map[string]interface{}, len(members)*3)}
	naming.InstallAll(b.members, members)
	return b
}

// Context returns the owning context
func (b *BaseAPI) Context() *Context {
	return b.ec
}

// Set adds a member under its name variants
func (b *BaseAPI) Set(name string, value interface{}) {
	naming.Install(b.members, name, value)
}

// Get returns a member by exact name
func (b *BaseAPI) Get(name string) (interface{}, bool) {
	v, ok := b.members[name]
	return v, ok
}

// Members returns a copy of the member table
func (b *BaseAPI) Members() map[string]interface{} {
	out := make(map[string]interface{}, len(b.members))
	for k, v := range b.members {
		out[k] = v
	}
	return out
}

// InstallAPI constructs kind bound to c and installs its members under
// every variant of name. Children derived later rebind their own instance.
func (c *Context) InstallAPI(kind Kind, name string) SubAPI {
	api := kind(c)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.installed[name] = kind
	for _, v := range naming.Variants(name) {
		c.apis[v] = api
	}
	naming.Install(c.namespace, name, api.Members())
	return api
}

// BuildAPI constructs an ad-hoc sub-API from definition without installing it.
func (c *Context) BuildAPI(definition map[string]interface{}) SubAPI {
	return NewBaseAPI(c, definition)
}

// API returns the sub-API installed under name
func (c *Context) API(name string) (SubAPI, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api, ok := c.apis[name]
	return api, ok
}
