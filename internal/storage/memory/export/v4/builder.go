package v4

import (
	"maps"
	"slices"
	"strconv"

	"github.com/OCAP2/vcd/pkg/core"
)

// DocumentData contains all the data needed to build an export
type DocumentData struct {
	SchemaVersion  string
	Name           string
	FileVersion    string
	Metadata       core.Metadata
	Ontologies     []string // index is the ontology uid
	Streams        []core.Stream
	FrameIntervals core.FrameIntervals

	FrameProperties map[int]core.FrameProperties

	// Elements per category, in creation order
	Elements map[core.ElementType][]*core.Element
}

// Build creates the full document: the per-frame expansion under "frames"
// and the per-element summary with data pointers under each category.
func Build(data *DocumentData) *Object {
	vcd := NewObject()
	vcd.Set("frames", buildFrames(data))
	vcd.Set("schema_version", data.SchemaVersion)
	vcd.Set("frame_intervals", intervalsJSON(data.FrameIntervals))

	if data.Name != "" {
		vcd.Set("name", data.Name)
	}
	if data.FileVersion != "" {
		vcd.Set("file_version", data.FileVersion)
	}
	if md := buildMetadata(data); md.Len() > 0 {
		vcd.Set("metadata", md)
	}
	if len(data.Ontologies) > 0 {
		ont := NewObject()
		for i, url := range data.Ontologies {
			ont.Set(strconv.Itoa(i), url)
		}
		vcd.Set("ontologies", ont)
	}

	for _, t := range core.ElementTypes {
		elements := data.Elements[t]
		if len(elements) == 0 {
			continue
		}
		summary := NewObject()
		for _, e := range elements {
			summary.Set(strconv.Itoa(e.UID), buildElement(t, e, true))
		}
		vcd.Set(t.Plural(), summary)
	}

	return NewObject().Set("vcd", vcd)
}

// BuildFrame creates the content of a single frame. With dynamicOnly set it
// matches the entry under "frames"; otherwise every element also carries its
// static description, and elements without frame intervals (which live for
// the whole sequence) are included. Returns false if the frame does not exist.
func BuildFrame(data *DocumentData, frame int, dynamicOnly bool) (*Object, bool) {
	_, hasProps := data.FrameProperties[frame]
	if !data.FrameIntervals.Has(frame) && !hasProps {
		return nil, false
	}
	return buildFrameContent(data, frame, !dynamicOnly), true
}

// FrameNumbers lists the frames emitted under "frames": every frame of the
// document intervals plus frames that only carry frame properties.
func FrameNumbers(data *DocumentData) []int {
	frames := data.FrameIntervals.Frames()
	for f := range data.FrameProperties {
		if !data.FrameIntervals.Has(f) {
			frames = append(frames, f)
		}
	}
	slices.Sort(frames)
	return frames
}

func buildFrames(data *DocumentData) *Object {
	frames := NewObject()
	for _, f := range FrameNumbers(data) {
		frames.Set(strconv.Itoa(f), buildFrameContent(data, f, false))
	}
	return frames
}

func buildFrameContent(data *DocumentData, frame int, withStatic bool) *Object {
	content := NewObject()
	for _, t := range core.ElementTypes {
		inFrame := NewObject()
		for _, e := range data.Elements[t] {
			var entry *Object
			switch {
			case e.Intervals.Has(frame):
				entry = NewObject()
				if withStatic {
					entry = buildElement(t, e, false)
				}
				if t != core.ElementRelation {
					if block := dataBlock(e.Data, frame, withStatic); block.Len() > 0 {
						entry.Set(t.DataKey(), block)
					}
				}
			case withStatic && e.Intervals.Empty() && t != core.ElementRelation:
				entry = buildElement(t, e, false)
			default:
				continue
			}
			inFrame.Set(strconv.Itoa(e.UID), entry)
		}
		if inFrame.Len() > 0 {
			content.Set(t.Plural(), inFrame)
		}
	}

	if fp, ok := data.FrameProperties[frame]; ok {
		content.Set("frame_properties", framePropertiesJSON(fp))
	}
	return content
}

func framePropertiesJSON(fp core.FrameProperties) *Object {
	props := NewObject()
	if fp.Timestamp != "" {
		props.Set("timestamp", fp.Timestamp)
	}
	setSorted(props, fp.Properties)
	if fp.Odometry != nil {
		odometry := NewObject().Set("pose_lcs_wrt_wcs_4x4", floatsJSON(fp.Odometry.Pose))
		setSorted(odometry, fp.Odometry.Properties)
		props.Set("odometry", odometry)
	}
	if len(fp.Streams) > 0 {
		streams := NewObject()
		for _, name := range slices.Sorted(maps.Keys(fp.Streams)) {
			streams.Set(name, NewObject().Set("stream_properties", streamPropertiesJSON(fp.Streams[name])))
		}
		props.Set("streams", streams)
	}
	return props
}

// streamPropertiesJSON renders the "stream_properties" block: free
// properties first, then intrinsics, extrinsics and sync.
func streamPropertiesJSON(sp core.StreamProperties) *Object {
	obj := NewObject()
	setSorted(obj, sp.Properties)
	if p := sp.Pinhole; p != nil {
		obj.Set("intrinsics_pinhole", NewObject().
			Set("width_px", p.WidthPx).
			Set("height_px", p.HeightPx).
			Set("camera_matrix_3x4", floatsJSON(p.CameraMatrix)).
			Set("distortion_coeffs_1xN", floatsJSON(p.DistortionCoeffs)))
	}
	if f := sp.Fisheye; f != nil {
		obj.Set("intrinsics_fisheye", NewObject().
			Set("width_px", f.WidthPx).
			Set("height_px", f.HeightPx).
			Set("lens_coeffs_1x4", floatsJSON(f.LensCoeffs)).
			Set("center_x", f.CenterX).
			Set("center_y", f.CenterY).
			Set("radius_x", f.RadiusX).
			Set("radius_y", f.RadiusY))
	}
	if sp.Extrinsics != nil {
		obj.Set("extrinsics", NewObject().Set("pose_scs_wrt_lcs_4x4", floatsJSON(sp.Extrinsics.Pose)))
	}
	if s := sp.Sync; s != nil {
		sync := NewObject()
		if s.FrameShift != nil {
			sync.Set("frame_shift", *s.FrameShift)
		} else {
			sync.Set("frame_stream", s.FrameStream)
			if s.Timestamp != "" {
				sync.Set("timestamp", s.Timestamp)
			}
		}
		obj.Set("sync", sync)
	}
	return obj
}

func setSorted(obj *Object, values map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(values)) {
		obj.Set(k, values[k])
	}
}

// floatsJSON never returns nil so empty lists encode as []
func floatsJSON(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

// buildElement renders the element summary. Without intervals it is the
// static part merged into a frame view.
func buildElement(t core.ElementType, e *core.Element, withIntervals bool) *Object {
	obj := NewObject()
	obj.Set("name", e.Name)
	obj.Set("type", e.Type)
	if withIntervals {
		obj.Set("frame_intervals", intervalsJSON(e.Intervals))
	}
	if e.OntologyUID != "" {
		obj.Set("ontology_uid", e.OntologyUID)
	}
	if e.Stream != "" {
		obj.Set("stream", e.Stream)
	}

	if t == core.ElementRelation {
		if len(e.RDFSubjects) > 0 {
			obj.Set("rdf_subjects", rdfJSON(e.RDFSubjects))
		}
		if len(e.RDFObjects) > 0 {
			obj.Set("rdf_objects", rdfJSON(e.RDFObjects))
		}
		return obj
	}

	if withIntervals {
		if static := staticBlock(e.Data); static.Len() > 0 {
			obj.Set(t.DataKey(), static)
		}
	}
	if pointers := Pointers(e.Data); pointers.Len() > 0 {
		obj.Set(t.PointersKey(), pointers)
	}
	return obj
}

// Pointers renders the data pointer summary of a data set:
// {name: {"type", "frame_intervals", ["attributes": {attr: kind}]}}.
func Pointers(set *core.DataSet) *Object {
	pointers := NewObject()
	for _, entry := range set.Entries() {
		p := NewObject()
		p.Set("type", entry.Data.Kind.String())
		p.Set("frame_intervals", intervalsJSON(entry.Intervals))
		if entry.Data.HasAttributes() {
			attrs := NewObject()
			for _, attr := range entry.Data.Attributes.Entries() {
				attrs.Set(attr.Data.Name, attr.Data.Kind.String())
			}
			p.Set("attributes", attrs)
		}
		pointers.Set(entry.Data.Name, p)
	}
	return pointers
}

// dataBlock groups the fields active at frame by kind. Static fields are
// included when withStatic is set.
func dataBlock(set *core.DataSet, frame int, withStatic bool) *Object {
	return groupByKind(set, func(entry core.DataEntry) bool {
		if entry.Intervals.Empty() {
			return withStatic
		}
		return entry.Intervals.Has(frame)
	})
}

func staticBlock(set *core.DataSet) *Object {
	return groupByKind(set, func(entry core.DataEntry) bool {
		return entry.Intervals.Empty()
	})
}

// groupByKind renders {kind: [data, ...]} with kinds and fields in
// first-insertion order.
func groupByKind(set *core.DataSet, include func(core.DataEntry) bool) *Object {
	block := NewObject()
	for _, entry := range set.Entries() {
		if !include(entry) {
			continue
		}
		kind := entry.Data.Kind.String()
		list, _ := block.GetArray(kind)
		block.Set(kind, append(list, dataJSON(entry.Data)))
	}
	return block
}

func dataJSON(d core.ElementData) *Object {
	obj := NewObject()
	obj.Set("name", d.Name)
	obj.Set("val", d.Value)
	if d.Kind == core.KindPoly2D {
		obj.Set("mode", string(d.Mode))
		obj.Set("closed", d.Closed)
	}
	if d.HasAttributes() {
		obj.Set("attributes", groupByKind(d.Attributes, func(core.DataEntry) bool { return true }))
	}
	return obj
}

func buildMetadata(data *DocumentData) *Object {
	md := NewObject()
	if data.Metadata.Annotator != "" {
		md.Set("annotator", data.Metadata.Annotator)
	}
	if data.Metadata.Comment != "" {
		md.Set("comment", data.Metadata.Comment)
	}
	if len(data.Metadata.Properties) > 0 {
		props := NewObject()
		setSorted(props, data.Metadata.Properties)
		md.Set("properties", props)
	}
	if len(data.Streams) > 0 {
		streams := NewObject()
		for _, s := range data.Streams {
			stream := NewObject().
				Set("description", s.Description).
				Set("uri", s.URI).
				Set("type", string(s.Type))
			if !s.Properties.Empty() {
				stream.Set("stream_properties", streamPropertiesJSON(s.Properties))
			}
			streams.Set(s.Name, stream)
		}
		md.Set("streams", streams)
	}
	return md
}

func rdfJSON(links []core.RDFLink) []any {
	out := make([]any, 0, len(links))
	for _, l := range links {
		out = append(out, NewObject().
			Set("uid", strconv.Itoa(l.UID)).
			Set("type", l.Type.String()))
	}
	return out
}

// intervalsJSON never returns nil so empty sets encode as []
func intervalsJSON(fis core.FrameIntervals) []core.FrameInterval {
	out := make([]core.FrameInterval, len(fis))
	copy(out, fis)
	return out
}
