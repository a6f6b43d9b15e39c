package mapping

import (
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CatalogStats is a point-in-time summary of a catalog
type CatalogStats struct {
	ID                  uuid.UUID
	Types               int
	Fields              int
	References          int
	Collections         int
	Extents             int
	JoinedLinks         int
	ResolveHits         int64
	ResolveMisses       int64
	DroppedPathSegments int64
	IgnoredSetterCalls  int64
}

// Stats returns statistics about the catalog
func (c *Catalog) Stats() CatalogStats {
	stats := CatalogStats{
		ID:                  c.id,
		ResolveHits:         c.stats.resolveHits.Load(),
		ResolveMisses:       c.stats.resolveMisses.Load(),
		DroppedPathSegments: c.stats.droppedSegments.Load(),
		IgnoredSetterCalls:  c.stats.ignoredSetters.Load(),
	}

	c.mu.RLock()
	stats.Extents = len(c.extentIndex)
	for _, subs := range c.joined {
		stats.JoinedLinks += len(subs)
	}
	c.mu.RUnlock()

	for _, d := range c.Snapshot() {
		stats.Types++
		stats.Fields += len(d.Fields())
		stats.References += len(d.References())
		stats.Collections += len(d.Collections())
	}
	return stats
}

// Validate checks every descriptor for dangling links: unmapped relationship
// targets, extents and base types, and foreign keys that do not resolve. All
// problems are reported together.
func (c *Catalog) Validate() error {
	var errs error
	for _, d := range c.Snapshot() {
		errs = multierr.Append(errs, c.validateDescriptor(d))
	}
	if errs != nil {
		c.logger.Warn("catalog validation failed",
			zap.Int("problems", len(multierr.Errors(errs))))
	}
	return errs
}

func (c *Catalog) validateDescriptor(d *TypeDescriptor) error {
	var errs error

	for _, ext := range d.ExtentTypes() {
		if _, ok := c.Get(ext); !ok {
			errs = multierr.Append(errs, configErrorf(d.Name(), "", "extent type %s is not mapped", ext))
		}
	}

	if d.BaseType() != "" {
		if _, err := d.BaseTypeDescriptor(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	for _, rel := range d.Relationships() {
		if rel.Name() == SuperReferenceName {
			continue
		}
		target, err := c.Resolve(rel.TargetType())
		if err != nil {
			errs = multierr.Append(errs, configErrorf(d.Name(), rel.Name(),
				"relationship target %s is not mapped", rel.TargetType()))
			continue
		}

		// Collection foreign keys live on the item type, unless the
		// collection goes through an indirection table.
		ctx := d
		if coll, ok := rel.(*CollectionDescriptor); ok {
			if coll.HasManyToManyIndirection() {
				continue
			}
			ctx = target
		}
		if _, err := rel.ForeignKeyFields(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if d.IsConcrete() && d.FullTableName() != "" {
		if _, err := d.PrimaryKeyFields(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// clone returns a detached deep copy of d. Accessors and hooks are shared.
func (d *TypeDescriptor) clone() *TypeDescriptor {
	n := NewTypeDescriptor(d.name)
	n.goType = d.goType
	n.schema = d.schema
	n.table = d.table
	n.abstract = d.abstract
	n.isInterface = d.isInterface
	n.Factory = d.Factory
	n.Initializer = d.Initializer
	n.InsertProcedure = d.InsertProcedure.clone()
	n.UpdateProcedure = d.UpdateProcedure.clone()
	n.DeleteProcedure = d.DeleteProcedure.clone()
	n.RowReader = d.RowReader
	n.AcceptLocks = d.AcceptLocks

	for _, f := range d.Fields() {
		n.AddField(f.clone())
	}
	super := d.SuperReference()
	for _, r := range d.References() {
		if super != nil && r == &super.ReferenceDescriptor {
			continue
		}
		n.AddReference(r.clone())
	}
	for _, c := range d.Collections() {
		n.AddCollection(c.clone())
	}
	n.extents = d.ExtentTypes()
	if super != nil {
		n.SetBaseType(super.TargetType(), super.ForeignKeys()...)
	}
	return n
}

func (p *ProcedureDescriptor) clone() *ProcedureDescriptor {
	if p == nil {
		return nil
	}
	c := *p
	c.Arguments = append([]ProcedureArgument(nil), p.Arguments...)
	return &c
}
