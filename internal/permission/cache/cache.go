// Package cache memoizes access decisions keyed by (principal, resource, action).
// Only decisions that do not depend on the request context are stored.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"trustlayer/internal/permission/domain"
	"trustlayer/internal/permission/resolver"
)

// Inner is the resolver being memoized.
type Inner interface {
	Resolve(ctx context.Context, principalID, resource, action string, rc domain.RequestContext) (domain.Decision, error)
	OnInvalidate(fn func(principalID string))
}

type key struct {
	principal, resource, action string
}

// Resolver is a caching front for Inner.
type Resolver struct {
	inner Inner
	lru   *expirable.LRU[key, domain.Decision]
}

// New wraps inner with a cache of at most size decisions, each kept for at
// most ttl, and registers itself on inner's invalidation hook.
func New(inner Inner, size int, ttl time.Duration) *Resolver {
	c := &Resolver{inner: inner, lru: expirable.NewLRU[key, domain.Decision](size, nil, ttl)}
	inner.OnInvalidate(c.Invalidate)
	return c
}

// Resolve returns a cached decision when one exists, otherwise resolves and
// stores the result if it is context free.
func (c *Resolver) Resolve(ctx context.Context, principalID, resource, action string, rc domain.RequestContext) (domain.Decision, error) {
	k := key{principalID, resource, action}
	if d, ok := c.lru.Get(k); ok {
		return d, nil
	}
	d, err := c.inner.Resolve(ctx, principalID, resource, action, rc)
	if err != nil {
		return d, err
	}
	if d.ContextFree {
		c.lru.Add(k, d)
	}
	return d, nil
}

// Invalidate drops every cached decision for principalID, or everything for
// resolver.AllPrincipals.
func (c *Resolver) Invalidate(principalID string) {
	if principalID == resolver.AllPrincipals {
		c.lru.Purge()
		return
	}
	for _, k := range c.lru.Keys() {
		if k.principal == principalID {
			c.lru.Remove(k)
		}
	}
}

// Len returns the number of cached decisions.
func (c *Resolver) Len() int { return c.lru.Len() }
