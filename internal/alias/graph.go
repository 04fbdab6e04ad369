package alias

import (
	"errors"
	"fmt"
	"sort"

	"calcore/internal/calerr"
)

// ErrCollectionNotFound is returned when a path on an alias chain does not
// resolve to a collection.
var ErrCollectionNotFound = errors.New("alias: collection not found")

// Directory supplies collection data. It is implemented by the storage
// layer; MapDirectory is an in-memory version.
type Directory interface {
	// Collection looks up a collection by path.
	Collection(path string) (Collection, bool)
	// AliasesOf returns the collections whose AliasOf is path.
	AliasesOf(path string) []Collection
}

// VisibilityFunc is the access decision for a collection (entityName empty)
// or for one entity in it. The core only aggregates these answers.
type VisibilityFunc func(col Collection, entityName string) bool

// Graph walks alias chains over a Directory.
type Graph struct {
	dir     Directory
	visible VisibilityFunc
}

// NewGraph returns a Graph. A nil visible func treats everything as
// visible.
func NewGraph(dir Directory, visible VisibilityFunc) *Graph {
	if visible == nil {
		visible = func(Collection, string) bool { return true }
	}
	return &Graph{dir: dir, visible: visible}
}

// Target follows AliasOf links from path to the real collection. The first
// hop is path's own collection and the last one is the target.
func (g *Graph) Target(path string) ([]Collection, error) {
	const op = "alias.Target"

	var hops []Collection
	seen := make(map[string]bool)
	for p := path; ; {
		if seen[p] {
			return nil, calerr.AliasCycle(op, "alias chain from %q revisits %q", path, p)
		}
		seen[p] = true

		col, ok := g.dir.Collection(p)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, p)
		}
		hops = append(hops, col)
		if !col.IsAlias() {
			return hops, nil
		}
		p = col.AliasOf
	}
}

// Build returns the sharee tree rooted at the real collection behind path.
// Each node's Visible is the AND of the collection-level decisions from the
// root down to it.
func (g *Graph) Build(path string) (*Info, error) {
	hops, err := g.Target(path)
	if err != nil {
		return nil, err
	}
	return g.build(hops[len(hops)-1], true, make(map[string]bool))
}

func (g *Graph) build(col Collection, parentVisible bool, onPath map[string]bool) (*Info, error) {
	if onPath[col.Path] {
		return nil, calerr.AliasCycle("alias.Build", "collection %q aliases itself through its sharees", col.Path)
	}
	onPath[col.Path] = true
	defer delete(onPath, col.Path)

	node := NewInfo(col, "", parentVisible && g.visible(col, ""))

	aliases := g.dir.AliasesOf(col.Path)
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Path < aliases[j].Path })
	for _, a := range aliases {
		child, err := g.build(a, node.Visible, onPath)
		if err != nil {
			return nil, err
		}
		node.AddSharee(child)
	}
	return node, nil
}

// Resolution is the outcome of a visibility query.
type Resolution struct {
	Visible  bool
	Reshared bool
	Key      string
	Info     *Info
}

// Resolve walks root along via (collection paths from the root downward;
// the root itself may be listed first) and answers whether entityName is
// visible at the end of that path. Reshared is set when any hop below the
// root shares the collection further. A path that leaves the tree is not
// visible.
func (g *Graph) Resolve(root *Info, via []string, entityName string) Resolution {
	node := root
	visible := root.Visible && g.visible(root.Collection, entityName)
	reshared := false

	for i, p := range via {
		if i == 0 && p == root.Collection.Path {
			continue
		}
		child, ok := node.Sharee(p)
		if !ok {
			return Resolution{Key: MakeKey(p, entityName)}
		}
		visible = visible && child.Visible && g.visible(child.Collection, entityName)
		node = child
		if node.Shared {
			reshared = true
		}
	}

	leaf := node.CopyForEntity(entityName, visible)
	return Resolution{
		Visible:  visible,
		Reshared: reshared,
		Key:      leaf.Key(),
		Info:     leaf,
	}
}

// Visible resolves entityName as seen through the alias at path: the
// chain is followed to the real collection, the tree is built from there
// and walked back along the chain. An AliasCycle error must be treated as
// not visible.
func (g *Graph) Visible(path, entityName string) (Resolution, error) {
	hops, err := g.Target(path)
	if err != nil {
		return Resolution{}, err
	}
	root, err := g.build(hops[len(hops)-1], true, make(map[string]bool))
	if err != nil {
		return Resolution{}, err
	}
	return g.Resolve(root, ViaFromHops(hops), entityName), nil
}

// Allows reports whether the entity-level decision holds at every hop of
// the alias chain starting at path. Collection-level visibility is not
// rechecked.
func (g *Graph) Allows(path, entityName string) (bool, error) {
	hops, err := g.Target(path)
	if err != nil {
		return false, err
	}
	for _, h := range hops {
		if !g.visible(h, entityName) {
			return false, nil
		}
	}
	return true, nil
}

// ViaFromHops turns the output of Target (alias first, target last) into
// a root-first access path for Resolve.
func ViaFromHops(hops []Collection) []string {
	via := make([]string, 0, len(hops))
	for i := len(hops) - 1; i >= 0; i-- {
		via = append(via, hops[i].Path)
	}
	return via
}

// MapDirectory is an in-memory Directory.
type MapDirectory struct {
	cols    map[string]Collection
	aliases map[string][]string
}

// NewMapDirectory indexes cols by path. Later duplicates replace earlier
// ones.
func NewMapDirectory(cols ...Collection) *MapDirectory {
	d := &MapDirectory{
		cols:    make(map[string]Collection, len(cols)),
		aliases: make(map[string][]string),
	}
	for _, c := range cols {
		d.cols[c.Path] = c
	}
	for _, c := range d.cols {
		if c.IsAlias() {
			d.aliases[c.AliasOf] = append(d.aliases[c.AliasOf], c.Path)
		}
	}
	return d
}

func (d *MapDirectory) Collection(path string) (Collection, bool) {
	c, ok := d.cols[path]
	return c, ok
}

func (d *MapDirectory) AliasesOf(path string) []Collection {
	paths := append([]string(nil), d.aliases[path]...)
	sort.Strings(paths)
	out := make([]Collection, 0, len(paths))
	for _, p := range paths {
		out = append(out, d.cols[p])
	}
	return out
}
