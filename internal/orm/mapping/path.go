package mapping

import (
	"strings"

	"go.uber.org/zap"
)

// PathResolution is the outcome of resolving a dotted attribute path
type PathResolution struct {
	// Relationships are the relationships traversed, in path order
	Relationships []Relationship
	// Field is the plain attribute the path ends at, nil if it ends at a relationship
	Field *FieldDescriptor
	// Dropped lists the path prefixes of segments that matched no attribute
	Dropped []string
}

// EndsAtRelationship returns true if the last resolved segment was a relationship
func (p PathResolution) EndsAtRelationship() bool {
	return p.Field == nil && len(p.Relationships) > 0
}

// ResolvePath walks a dotted path such as "customer.address.city" starting at
// d. Each relationship segment moves to its target type, or to the type
// named in hints under that path prefix when the relationship is polymorphic.
// Attributes are looked up along the declarative base chain.
//
// Segments matching no attribute are skipped; they are logged at debug level,
// counted in the catalog stats and listed in Dropped.
func (d *TypeDescriptor) ResolvePath(path string, hints map[string]string) PathResolution {
	var (
		res    PathResolution
		prefix string
		last   Attribute
	)
	cur := d
	for _, seg := range strings.Split(path, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if prefix == "" {
			prefix = seg
		} else {
			prefix += "." + seg
		}

		var attr Attribute
		if cur != nil {
			attr = cur.findAttributeInChain(seg)
		}
		if attr == nil {
			d.dropSegment(&res, path, prefix)
			continue
		}
		last = attr

		rel, ok := attr.(Relationship)
		if !ok {
			continue
		}
		res.Relationships = append(res.Relationships, rel)

		next := rel.TargetType()
		if hint, ok := hints[prefix]; ok && hint != "" {
			next = hint
		}
		cur = nil
		if c := d.Catalog(); c != nil {
			if t, err := c.Resolve(next); err == nil {
				cur = t
			}
		}
	}

	if f, ok := last.(*FieldDescriptor); ok {
		res.Field = f
	}
	return res
}

// FieldForPath returns the field a dotted path ends at, nil if it ends elsewhere
func (d *TypeDescriptor) FieldForPath(path string, hints map[string]string) *FieldDescriptor {
	return d.ResolvePath(path, hints).Field
}

func (d *TypeDescriptor) dropSegment(res *PathResolution, path, prefix string) {
	res.Dropped = append(res.Dropped, prefix)
	if c := d.Catalog(); c != nil {
		c.stats.droppedSegments.Add(1)
	}
	d.logger().Debug("path segment matches no attribute",
		zap.String("type", d.name),
		zap.String("path", path),
		zap.String("segment", prefix))
}
