package console

import (
	"sync/atomic"

	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/router"
)

// Policy holds the access resolver and router options shared by every
// console. It is swapped as a whole when the configuration reloads.
type Policy struct {
	v atomic.Pointer[policyState]
}

type policyState struct {
	resolver *access.Resolver
	router   router.Router
}

// NewPolicy creates a policy. A nil resolver grants nothing.
func NewPolicy(resolver *access.Resolver, r router.Router) *Policy {
	p := &Policy{}
	p.Update(resolver, r)
	return p
}

// Update replaces the resolver and router options.
func (p *Policy) Update(resolver *access.Resolver, r router.Router) {
	if resolver == nil {
		resolver = access.NewResolver()
	}
	p.v.Store(&policyState{resolver: resolver, router: r})
}

// Resolver returns the current access resolver.
func (p *Policy) Resolver() *access.Resolver {
	return p.v.Load().resolver
}

// Router returns the current router options.
func (p *Policy) Router() router.Router {
	return p.v.Load().router
}
