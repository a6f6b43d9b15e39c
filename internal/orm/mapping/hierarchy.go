package mapping

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// addJoinedLocked records sub as a declarative subtype of base. Callers hold c.mu.
func (c *Catalog) addJoinedLocked(base, sub string) {
	for _, s := range c.joined[base] {
		if s == sub {
			return
		}
	}
	c.joined[base] = append(c.joined[base], sub)
}

// removeJoinedLocked drops sub from every base. Callers hold c.mu.
func (c *Catalog) removeJoinedLocked(sub string) {
	for base, subs := range c.joined {
		for i, s := range subs {
			if s == sub {
				subs = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(c.joined, base)
		} else {
			c.joined[base] = subs
		}
	}
}

func (c *Catalog) registerJoined(d *TypeDescriptor) {
	base := d.BaseType()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeJoinedLocked(d.Name())
	if base != "" {
		c.addJoinedLocked(base, d.Name())
	}
	c.invalidateLocked()
}

func (c *Catalog) deregisterJoined(d *TypeDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeJoinedLocked(d.Name())
	c.invalidateLocked()
}

// JoinedSubtypes returns the types declaring base as their declarative base type
func (c *Catalog) JoinedSubtypes(base string) []string {
	c.mu.RLock()
	subs := append([]string(nil), c.joined[base]...)
	c.mu.RUnlock()

	sort.Strings(subs)
	return subs
}

// TopLevelType returns the root of the hierarchy containing name. Extent
// ownership is followed first, then the declarative base type.
func (c *Catalog) TopLevelType(name string) (*TypeDescriptor, error) {
	d, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}

	dc := c.derived()
	dc.mu.Lock()
	top, ok := dc.topLevel[name]
	dc.mu.Unlock()
	if ok {
		return top, nil
	}

	top = d
	seen := map[*TypeDescriptor]bool{d: true}
	for {
		if owner, ok := c.ExtentOwner(top.Name()); ok && !seen[owner] {
			seen[owner] = true
			top = owner
			continue
		}
		if base := top.BaseType(); base != "" {
			if b, ok := c.Get(base); ok && !seen[b] {
				seen[b] = true
				top = b
				continue
			}
		}
		break
	}

	dc.mu.Lock()
	dc.topLevel[name] = top
	dc.mu.Unlock()
	return top, nil
}

// FirstConcreteExtent returns d itself when concrete, otherwise the first
// concrete type found depth first through its extents. Cycles are tolerated.
func (c *Catalog) FirstConcreteExtent(d *TypeDescriptor) (*TypeDescriptor, bool) {
	if d == nil {
		return nil, false
	}
	dc := c.derived()
	dc.mu.Lock()
	found, ok := dc.firstConcrete[d]
	dc.mu.Unlock()
	if ok {
		return found, found != nil
	}

	found = c.firstConcrete(d, make(map[*TypeDescriptor]bool))
	if found == nil {
		c.logger.Warn("no concrete extent found", zap.String("type", d.Name()))
	}

	dc.mu.Lock()
	dc.firstConcrete[d] = found
	dc.mu.Unlock()
	return found, found != nil
}

func (c *Catalog) firstConcrete(d *TypeDescriptor, seen map[*TypeDescriptor]bool) *TypeDescriptor {
	if seen[d] {
		return nil
	}
	seen[d] = true
	if d.IsConcrete() {
		return d
	}
	for _, name := range d.ExtentTypes() {
		ext, ok := c.Get(name)
		if !ok {
			c.logger.Debug("extent type not mapped",
				zap.String("type", d.Name()),
				zap.String("extent", name))
			continue
		}
		if found := c.firstConcrete(ext, seen); found != nil {
			return found
		}
	}
	return nil
}

// AllConcreteSubtypes returns every concrete type reachable through extents,
// depth first, excluding d itself. Each type appears once even if the extent
// graph has cycles.
func (c *Catalog) AllConcreteSubtypes(d *TypeDescriptor) []*TypeDescriptor {
	if d == nil {
		return nil
	}
	dc := c.derived()
	dc.mu.Lock()
	cached, ok := dc.allConcrete[d]
	dc.mu.Unlock()
	if ok {
		return append([]*TypeDescriptor(nil), cached...)
	}

	var result []*TypeDescriptor
	seen := map[*TypeDescriptor]bool{d: true}
	var walk func(*TypeDescriptor)
	walk = func(cur *TypeDescriptor) {
		for _, name := range cur.ExtentTypes() {
			ext, ok := c.Get(name)
			if !ok || seen[ext] {
				continue
			}
			seen[ext] = true
			if ext.IsConcrete() {
				result = append(result, ext)
			}
			walk(ext)
		}
	}
	walk(d)

	dc.mu.Lock()
	dc.allConcrete[d] = result
	dc.mu.Unlock()
	return append([]*TypeDescriptor(nil), result...)
}

// DescriptorsForTable returns every descriptor mapped to table, sorted by name
func (c *Catalog) DescriptorsForTable(table string) []*TypeDescriptor {
	if table == "" {
		return nil
	}
	var result []*TypeDescriptor
	for _, d := range c.Snapshot() {
		if strings.EqualFold(d.FullTableName(), table) {
			result = append(result, d)
		}
	}
	return result
}

// MultiMappedColumns returns the fields of target followed by the fields of
// every other type mapped to the same table, de-duplicated by column so that
// the target's definition of a shared column wins.
func (c *Catalog) MultiMappedColumns(target *TypeDescriptor) []*FieldDescriptor {
	if target == nil {
		return nil
	}
	dc := c.derived()
	dc.mu.Lock()
	cached, ok := dc.multiMapped[target]
	dc.mu.Unlock()
	if ok {
		return copyFields(cached)
	}

	result := target.Fields()
	seen := make(map[string]bool, len(result))
	for _, f := range result {
		seen[strings.ToLower(f.Column)] = true
	}
	for _, other := range c.DescriptorsForTable(target.FullTableName()) {
		if other == target {
			continue
		}
		for _, f := range other.Fields() {
			col := strings.ToLower(f.Column)
			if seen[col] {
				continue
			}
			seen[col] = true
			result = append(result, f)
		}
	}

	dc.mu.Lock()
	dc.multiMapped[target] = result
	dc.mu.Unlock()
	return copyFields(result)
}
