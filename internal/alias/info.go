// Package alias resolves visibility of calendar entities reached through
// chains of collection aliases.
//
// An Info tree is rooted at a real collection; its sharees are the alias
// collections (possibly owned by other principals) that point at it, and so
// on recursively. Trees are built per request: visibility depends on the
// requesting principal and on the filters in force, so they are not safe to
// keep around. The collection-only form may be cached for a short time (see
// internal/aliascache) and specialized per entity with CopyForEntity.
package alias

import (
	"sort"

	"calcore/internal/pathkey"
)

// Collection is the path-bearing handle of a calendar collection as
// supplied by the storage layer.
type Collection struct {
	Path      string `json:"path" yaml:"path"`
	OwnerHref string `json:"owner_href" yaml:"owner"`

	// AliasOf is the path this collection points at; empty for a real
	// collection.
	AliasOf string `json:"alias_of,omitempty" yaml:"alias_of,omitempty"`

	NotificationsEnabled bool `json:"notifications_enabled,omitempty" yaml:"notifications,omitempty"`
	ExternalOwner        bool `json:"external_owner,omitempty" yaml:"external,omitempty"`
}

// IsAlias reports whether c redirects to another collection.
func (c Collection) IsAlias() bool {
	return c.AliasOf != ""
}

// Info is the visibility record of one collection (and optionally one
// entity in it) as seen through an alias path.
type Info struct {
	PrincipalHref        string     `json:"principal_href"`
	Collection           Collection `json:"collection"`
	EntityName           string     `json:"entity_name,omitempty"`
	Visible              bool       `json:"visible"`
	Shared               bool       `json:"shared"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	ExternalPrincipal    bool       `json:"external_principal"`

	Sharees map[string]*Info `json:"sharees,omitempty"`
}

// NewInfo builds a node for col owned by its owner principal.
func NewInfo(col Collection, entityName string, visible bool) *Info {
	return &Info{
		PrincipalHref:        col.OwnerHref,
		Collection:           col,
		EntityName:           entityName,
		Visible:              visible,
		NotificationsEnabled: col.NotificationsEnabled,
		ExternalPrincipal:    col.ExternalOwner,
	}
}

// MakeKey returns the cache key of a visibility record: the collection
// path, or path/entity when an entity name is given. Invalidation must use
// the same rule.
func MakeKey(collectionPath, entityName string) string {
	return pathkey.Join(collectionPath, entityName)
}

// Key is MakeKey for this node.
func (i *Info) Key() string {
	return MakeKey(i.Collection.Path, i.EntityName)
}

// ReferencesCollection reports whether path is this node's collection or
// the collection of a direct sharee. Only one level is checked; deeper
// hops are represented by their own intermediate nodes.
func (i *Info) ReferencesCollection(path string) bool {
	if i.Collection.Path == path {
		return true
	}
	_, ok := i.Sharees[path]
	return ok
}

// AddSharee records child under its collection path and marks this node
// shared. Re-adding a path replaces the previous entry.
func (i *Info) AddSharee(child *Info) {
	if child == nil {
		return
	}
	if i.Sharees == nil {
		i.Sharees = make(map[string]*Info)
	}
	i.Sharees[child.Collection.Path] = child
	i.Shared = true
}

// Sharee returns the direct sharee for path.
func (i *Info) Sharee(path string) (*Info, bool) {
	s, ok := i.Sharees[path]
	return s, ok
}

// ShareePaths returns the direct sharee paths in sorted order.
func (i *Info) ShareePaths() []string {
	paths := make([]string, 0, len(i.Sharees))
	for p := range i.Sharees {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// CopyForEntity returns a leaf copy of i for one entity. Sharees are not
// copied.
func (i *Info) CopyForEntity(entityName string, visible bool) *Info {
	return &Info{
		PrincipalHref:        i.PrincipalHref,
		Collection:           i.Collection,
		EntityName:           entityName,
		Visible:              visible,
		Shared:               i.Shared,
		NotificationsEnabled: i.NotificationsEnabled,
		ExternalPrincipal:    i.ExternalPrincipal,
	}
}
