// pkg/core/data.go
package core

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidAttribute is returned when an attribute kind cannot be nested
var ErrInvalidAttribute = errors.New("invalid attribute")

// DataKind discriminates the value carried by an ElementData
type DataKind int

const (
	KindBoolean DataKind = iota
	KindText
	KindNum
	KindVec
	KindBBox
	KindPoly2D
)

var kindNames = map[DataKind]string{
	KindBoolean: "boolean",
	KindText:    "text",
	KindNum:     "num",
	KindVec:     "vec",
	KindBBox:    "bbox",
	KindPoly2D:  "poly2d",
}

// String returns the wire name of the kind ("boolean", "bbox", ...)
func (k DataKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DataKind(%d)", int(k))
}

// ParseDataKind maps a wire name back to its kind
func ParseDataKind(name string) (DataKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// attributeKinds are the kinds allowed inside an attributes set
var attributeKinds = []DataKind{KindBoolean, KindText, KindNum, KindVec}

// Poly2DMode is the encoding of a poly2d value
type Poly2DMode string

const (
	Poly2DAbsolute Poly2DMode = "MODE_POLY2D_ABSOLUTE"
	Poly2DBBox     Poly2DMode = "MODE_POLY2D_BBOX"
	Poly2DSRF6DCC  Poly2DMode = "MODE_POLY2D_SRF6DCC"
)

// ElementData is a named, typed value attached to an element.
// Value holds bool for boolean, string for text, float64 for num and
// []float64 for vec, bbox and poly2d. A poly2d in MODE_POLY2D_SRF6DCC mode
// holds its chain code as []string.
type ElementData struct {
	Name  string
	Kind  DataKind
	Value any

	// poly2d only
	Mode   Poly2DMode
	Closed bool

	Attributes *DataSet
}

// Boolean creates a boolean element data
func Boolean(name string, val bool) ElementData {
	return ElementData{Name: name, Kind: KindBoolean, Value: val}
}

// Text creates a text element data
func Text(name, val string) ElementData {
	return ElementData{Name: name, Kind: KindText, Value: val}
}

// Num creates a numeric element data
func Num(name string, val float64) ElementData {
	return ElementData{Name: name, Kind: KindNum, Value: val}
}

// Vec creates a vector element data
func Vec(name string, val ...float64) ElementData {
	return ElementData{Name: name, Kind: KindVec, Value: slices.Clone(val)}
}

// BBox creates a bounding box element data in (x, y, width, height) form
func BBox(name string, x, y, w, h float64) ElementData {
	return ElementData{Name: name, Kind: KindBBox, Value: []float64{x, y, w, h}}
}

// Poly2D creates a 2D polygon element data
func Poly2D(name string, points []float64, mode Poly2DMode, closed bool) ElementData {
	return ElementData{
		Name:   name,
		Kind:   KindPoly2D,
		Value:  slices.Clone(points),
		Mode:   mode,
		Closed: closed,
	}
}

// Poly2DChainCode creates a 2D polygon encoded as an SRF6DCC chain code
func Poly2DChainCode(name string, code []string, closed bool) ElementData {
	return ElementData{
		Name:   name,
		Kind:   KindPoly2D,
		Value:  slices.Clone(code),
		Mode:   Poly2DSRF6DCC,
		Closed: closed,
	}
}

// AddAttribute nests attr under d. An attribute with the same name
// replaces the previous one in place.
func (d *ElementData) AddAttribute(attr ElementData) error {
	if !slices.Contains(attributeKinds, attr.Kind) {
		return fmt.Errorf("%w: %s %q cannot be an attribute", ErrInvalidAttribute, attr.Kind, attr.Name)
	}
	if attr.Attributes != nil && attr.Attributes.Len() > 0 {
		return fmt.Errorf("%w: attribute %q carries attributes", ErrInvalidAttribute, attr.Name)
	}
	if d.Attributes == nil {
		d.Attributes = NewDataSet()
	}
	d.Attributes.Set(attr, nil)
	return nil
}

// HasAttributes reports whether d carries nested attributes
func (d ElementData) HasAttributes() bool {
	return d.Attributes != nil && d.Attributes.Len() > 0
}

// Clone returns a deep copy of d
func (d ElementData) Clone() ElementData {
	out := d
	switch v := d.Value.(type) {
	case []float64:
		out.Value = slices.Clone(v)
	case []string:
		out.Value = slices.Clone(v)
	}
	if d.Attributes != nil {
		out.Attributes = d.Attributes.Clone()
	}
	return out
}
