package memory

import (
	"bufio"
	"cmp"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/storage"
	v4 "github.com/OCAP2/vcd/internal/storage/memory/export/v4"
	"github.com/OCAP2/vcd/pkg/core"
)

// Load reads a serialized document, plain or gzip compressed, into a new
// Backend.
func Load(path string, cfg config.DocumentConfig, opts ...Option) (*Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	b, err := Parse(f, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return b, nil
}

// Parse reads a serialized document from r. Gzip input is detected by its
// magic bytes.
func Parse(r io.Reader, cfg config.DocumentConfig, opts ...Option) (*Backend, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	} else {
		r = br
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	var root v4.Object
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	vcd, ok := root.GetObject("vcd")
	if !ok {
		return nil, fmt.Errorf("missing \"vcd\" root object")
	}

	version, _ := vcd.GetString("schema_version")
	if err := checkSchemaVersion(version, cfg.SchemaVersion); err != nil {
		return nil, err
	}
	cfg.SchemaVersion = version

	b := New(cfg, opts...)
	l := loader{b: b, vcd: vcd}
	if err := l.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// checkSchemaVersion accepts documents sharing the major version of want
func checkSchemaVersion(got, want string) error {
	if want == "" {
		want = core.DefaultSchemaVersion
	}
	major := func(v string) string {
		m, _, _ := strings.Cut(v, ".")
		return m
	}
	if got == "" || major(got) != major(want) {
		return fmt.Errorf("%w: %q (want %s.x)", storage.ErrSchemaVersion, got, major(want))
	}
	return nil
}

type loader struct {
	b   *Backend
	vcd *v4.Object

	// dynamic values found under "frames", per category, uid and field name
	values map[core.ElementType]map[int]map[string]core.ElementData
}

func (l *loader) load() error {
	b := l.b
	if name, ok := l.vcd.GetString("name"); ok {
		b.SetName(name)
	}
	if version, ok := l.vcd.GetString("file_version"); ok {
		b.SetFileVersion(version)
	}
	if err := l.loadMetadata(); err != nil {
		return err
	}
	if err := l.loadOntologies(); err != nil {
		return err
	}
	if err := l.loadFrames(); err != nil {
		return err
	}
	for _, t := range core.ElementTypes {
		if err := l.loadElements(t); err != nil {
			return err
		}
	}
	// links need every element in place
	if err := l.loadRelations(); err != nil {
		return err
	}
	return nil
}

func (l *loader) loadMetadata() error {
	md, ok := l.vcd.GetObject("metadata")
	if !ok {
		return nil
	}
	if annotator, ok := md.GetString("annotator"); ok {
		l.b.SetAnnotator(annotator)
	}
	if comment, ok := md.GetString("comment"); ok {
		l.b.SetComment(comment)
	}
	if props, ok := md.GetObject("properties"); ok {
		l.b.AddMetadataProperties(toMap(props))
	}
	if streams, ok := md.GetObject("streams"); ok {
		for _, name := range streams.Keys() {
			s, _ := streams.GetObject(name)
			st := core.Stream{Name: name}
			st.Description, _ = s.GetString("description")
			st.URI, _ = s.GetString("uri")
			typ, _ := s.GetString("type")
			st.Type = core.StreamType(typ)
			if sp, ok := s.GetObject("stream_properties"); ok {
				props, err := parseStreamProperties(sp)
				if err != nil {
					return fmt.Errorf("stream %q: %w", name, err)
				}
				st.Properties = props
			}
			if err := l.b.AddStream(st); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) loadOntologies() error {
	ont, ok := l.vcd.GetObject("ontologies")
	if !ok {
		return nil
	}
	for _, key := range sortedUIDs(ont) {
		url, _ := ont.GetString(key)
		uid, err := l.b.AddOntology(url)
		if err != nil {
			return err
		}
		if uid != key {
			return fmt.Errorf("ontology uids must be contiguous from 0, got %q", key)
		}
	}
	return nil
}

func (l *loader) loadFrames() error {
	l.values = make(map[core.ElementType]map[int]map[string]core.ElementData)
	frames, ok := l.vcd.GetObject("frames")
	if !ok {
		return nil
	}
	for _, key := range frames.Keys() {
		frame, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid frame key %q", key)
		}
		content, _ := frames.GetObject(key)

		if props, ok := content.GetObject("frame_properties"); ok {
			fp, err := parseFrameProperties(props)
			if err != nil {
				return fmt.Errorf("frame %d: %w", frame, err)
			}
			if err := l.b.AddFrameProperties(frame, fp); err != nil {
				return err
			}
		}

		for _, t := range core.ElementTypes {
			inFrame, ok := content.GetObject(t.Plural())
			if !ok {
				continue
			}
			for _, uidKey := range inFrame.Keys() {
				uid, err := strconv.Atoi(uidKey)
				if err != nil {
					return fmt.Errorf("invalid %s uid %q", t, uidKey)
				}
				entry, _ := inFrame.GetObject(uidKey)
				block, ok := entry.GetObject(t.DataKey())
				if !ok {
					continue
				}
				fields, err := parseBlock(block)
				if err != nil {
					return fmt.Errorf("frame %d %s %d: %w", frame, t, uid, err)
				}
				l.setValues(t, uid, fields)
			}
		}
	}
	return nil
}

func (l *loader) setValues(t core.ElementType, uid int, fields []core.ElementData) {
	byUID, ok := l.values[t]
	if !ok {
		byUID = make(map[int]map[string]core.ElementData)
		l.values[t] = byUID
	}
	byName, ok := byUID[uid]
	if !ok {
		byName = make(map[string]core.ElementData)
		byUID[uid] = byName
	}
	for _, d := range fields {
		byName[d.Name] = d
	}
}

func (l *loader) loadElements(t core.ElementType) error {
	summary, ok := l.vcd.GetObject(t.Plural())
	if !ok {
		return nil
	}
	for _, key := range summary.Keys() {
		uid, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid %s uid %q", t, key)
		}
		obj, _ := summary.GetObject(key)

		e := core.Element{UID: uid, Category: t}
		e.Name, _ = obj.GetString("name")
		e.Type, _ = obj.GetString("type")
		e.OntologyUID, _ = obj.GetString("ontology_uid")
		e.Stream, _ = obj.GetString("stream")
		if e.Intervals, err = parseIntervals(obj, "frame_intervals"); err != nil {
			return fmt.Errorf("%s %d: %w", t, uid, err)
		}
		if err := l.b.AddElementWithUID(&e); err != nil {
			return err
		}
		if t == core.ElementRelation {
			continue
		}
		if err := l.loadData(t, uid, obj); err != nil {
			return fmt.Errorf("%s %d: %w", t, uid, err)
		}
	}
	return nil
}

// loadData restores the fields listed in the data pointers, in pointer
// order. Static values come from the summary, dynamic ones from the frames.
func (l *loader) loadData(t core.ElementType, uid int, obj *v4.Object) error {
	pointers, ok := obj.GetObject(t.PointersKey())
	if !ok {
		return nil
	}
	static := make(map[string]core.ElementData)
	if block, ok := obj.GetObject(t.DataKey()); ok {
		fields, err := parseBlock(block)
		if err != nil {
			return err
		}
		for _, d := range fields {
			static[d.Name] = d
		}
	}

	for _, name := range pointers.Keys() {
		p, _ := pointers.GetObject(name)
		intervals, err := parseIntervals(p, "frame_intervals")
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		var (
			d     core.ElementData
			found bool
		)
		if intervals.Empty() {
			d, found = static[name]
		} else {
			d, found = l.values[t][uid][name]
		}
		if !found {
			return fmt.Errorf("%w: no value for field %q", storage.ErrDataNotFound, name)
		}
		if err := l.b.AddElementData(t, uid, d, intervals); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadRelations() error {
	relations, ok := l.vcd.GetObject(core.ElementRelation.Plural())
	if !ok {
		return nil
	}
	for _, key := range relations.Keys() {
		uid, _ := strconv.Atoi(key)
		obj, _ := relations.GetObject(key)
		for _, role := range []struct {
			key string
			rdf core.RDFType
		}{{"rdf_subjects", core.RDFSubject}, {"rdf_objects", core.RDFObject}} {
			links, _ := obj.GetArray(role.key)
			for _, raw := range links {
				link, ok := raw.(*v4.Object)
				if !ok {
					return fmt.Errorf("relation %d: malformed %s", uid, role.key)
				}
				typ, _ := link.GetString("type")
				t, ok := core.ParseElementType(typ)
				if !ok {
					return fmt.Errorf("relation %d: %w: %q", uid, storage.ErrInvalidCategory, typ)
				}
				target, err := intValue(link, "uid")
				if err != nil {
					return fmt.Errorf("relation %d: %w", uid, err)
				}
				if err := l.b.AddRDF(uid, role.rdf, t, target); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// parseBlock reads {kind: [data, ...]} in document order
func parseBlock(block *v4.Object) ([]core.ElementData, error) {
	var out []core.ElementData
	for _, kindName := range block.Keys() {
		kind, ok := core.ParseDataKind(kindName)
		if !ok {
			return nil, fmt.Errorf("unknown data kind %q", kindName)
		}
		list, _ := block.GetArray(kindName)
		for _, raw := range list {
			obj, ok := raw.(*v4.Object)
			if !ok {
				return nil, fmt.Errorf("malformed %s data", kindName)
			}
			d, err := parseData(kind, obj)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func parseData(kind core.DataKind, obj *v4.Object) (core.ElementData, error) {
	d := core.ElementData{Kind: kind}
	d.Name, _ = obj.GetString("name")
	raw, _ := obj.Get("val")

	var err error
	switch kind {
	case core.KindBoolean:
		v, ok := raw.(bool)
		if !ok {
			err = fmt.Errorf("boolean %q: value %v", d.Name, raw)
		}
		d.Value = v
	case core.KindText:
		v, ok := raw.(string)
		if !ok {
			err = fmt.Errorf("text %q: value %v", d.Name, raw)
		}
		d.Value = v
	case core.KindNum:
		d.Value, err = floatValue(raw)
	case core.KindPoly2D:
		mode, _ := obj.GetString("mode")
		d.Mode = core.Poly2DMode(mode)
		if closed, ok := obj.Get("closed"); ok {
			d.Closed, _ = closed.(bool)
		}
		if d.Mode == core.Poly2DSRF6DCC {
			d.Value, err = stringSlice(raw)
		} else {
			d.Value, err = floatSlice(raw)
		}
	default:
		d.Value, err = floatSlice(raw)
	}
	if err != nil {
		return d, fmt.Errorf("%s %q: %w", kind, d.Name, err)
	}

	if attrs, ok := obj.GetObject("attributes"); ok {
		nested, err := parseBlock(attrs)
		if err != nil {
			return d, fmt.Errorf("attributes of %q: %w", d.Name, err)
		}
		for _, attr := range nested {
			if err := d.AddAttribute(attr); err != nil {
				return d, err
			}
		}
	}
	return d, nil
}

func parseIntervals(obj *v4.Object, key string) (core.FrameIntervals, error) {
	list, _ := obj.GetArray(key)
	var out core.FrameIntervals
	for _, raw := range list {
		fi, ok := raw.(*v4.Object)
		if !ok {
			return nil, fmt.Errorf("malformed %s", key)
		}
		start, err := intValue(fi, "frame_start")
		if err != nil {
			return nil, err
		}
		end, err := intValue(fi, "frame_end")
		if err != nil {
			return nil, err
		}
		interval, err := core.NewFrameInterval(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, interval)
	}
	return core.NewFrameIntervals(out...), nil
}

// intValue reads an integer stored as a number or a numeric string
func intValue(obj *v4.Object, key string) (int, error) {
	raw, ok := obj.Get(key)
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%q: %w", key, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%q: unexpected value %v", key, raw)
	}
}

func floatValue(raw any) (float64, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected number, got %v", raw)
	}
	return n.Float64()
}

func floatSlice(raw any) ([]float64, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %v", raw)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, err := floatValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func stringSlice(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %v", raw)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %v", item)
		}
		out = append(out, str)
	}
	return out, nil
}

// parseFrameProperties splits the odometry and the per-stream blocks off the
// free frame properties.
func parseFrameProperties(obj *v4.Object) (core.FrameProperties, error) {
	var fp core.FrameProperties
	for _, key := range obj.Keys() {
		raw, _ := obj.Get(key)
		switch key {
		case "timestamp":
			if ts, ok := raw.(string); ok {
				fp.Timestamp = ts
				continue
			}
		case "odometry":
			odo, ok := raw.(*v4.Object)
			if !ok {
				return fp, fmt.Errorf("malformed odometry")
			}
			o, err := parseOdometry(odo)
			if err != nil {
				return fp, err
			}
			fp.Odometry = &o
			continue
		case "streams":
			streams, ok := raw.(*v4.Object)
			if !ok {
				return fp, fmt.Errorf("malformed streams")
			}
			fp.Streams = make(map[string]core.StreamProperties, streams.Len())
			for _, name := range streams.Keys() {
				stream, _ := streams.GetObject(name)
				sp, _ := stream.GetObject("stream_properties")
				props, err := parseStreamProperties(sp)
				if err != nil {
					return fp, fmt.Errorf("stream %q: %w", name, err)
				}
				fp.Streams[name] = props
			}
			continue
		}
		if fp.Properties == nil {
			fp.Properties = make(map[string]any)
		}
		fp.Properties[key] = toValue(raw)
	}
	return fp, nil
}

func parseOdometry(obj *v4.Object) (core.Odometry, error) {
	var o core.Odometry
	for _, key := range obj.Keys() {
		raw, _ := obj.Get(key)
		if key == "pose_lcs_wrt_wcs_4x4" {
			pose, err := floatSlice(raw)
			if err != nil {
				return o, fmt.Errorf("odometry pose: %w", err)
			}
			o.Pose = pose
			continue
		}
		if o.Properties == nil {
			o.Properties = make(map[string]any)
		}
		o.Properties[key] = toValue(raw)
	}
	return o, nil
}

// parseStreamProperties reads a "stream_properties" block. A nil obj yields
// empty properties.
func parseStreamProperties(obj *v4.Object) (core.StreamProperties, error) {
	var sp core.StreamProperties
	if obj == nil {
		return sp, nil
	}
	for _, key := range obj.Keys() {
		raw, _ := obj.Get(key)
		block, isObject := raw.(*v4.Object)
		var err error
		switch {
		case key == "intrinsics_pinhole" && isObject:
			sp.Pinhole, err = parsePinhole(block)
		case key == "intrinsics_fisheye" && isObject:
			sp.Fisheye, err = parseFisheye(block)
		case key == "extrinsics" && isObject:
			var pose []float64
			if pose, err = floatSlice(valueOf(block, "pose_scs_wrt_lcs_4x4")); err == nil {
				sp.Extrinsics = &core.Extrinsics{Pose: pose}
			}
		case key == "sync" && isObject:
			sp.Sync, err = parseSync(block)
		default:
			if sp.Properties == nil {
				sp.Properties = make(map[string]any)
			}
			sp.Properties[key] = toValue(raw)
		}
		if err != nil {
			return sp, fmt.Errorf("%s: %w", key, err)
		}
	}
	return sp, nil
}

func parsePinhole(obj *v4.Object) (*core.IntrinsicsPinhole, error) {
	var (
		p   core.IntrinsicsPinhole
		err error
	)
	if p.WidthPx, err = intValue(obj, "width_px"); err != nil {
		return nil, err
	}
	if p.HeightPx, err = intValue(obj, "height_px"); err != nil {
		return nil, err
	}
	if p.CameraMatrix, err = floatSlice(valueOf(obj, "camera_matrix_3x4")); err != nil {
		return nil, err
	}
	if raw, ok := obj.Get("distortion_coeffs_1xN"); ok {
		if p.DistortionCoeffs, err = floatSlice(raw); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func parseFisheye(obj *v4.Object) (*core.IntrinsicsFisheye, error) {
	var (
		f   core.IntrinsicsFisheye
		err error
	)
	if f.WidthPx, err = intValue(obj, "width_px"); err != nil {
		return nil, err
	}
	if f.HeightPx, err = intValue(obj, "height_px"); err != nil {
		return nil, err
	}
	if f.LensCoeffs, err = floatSlice(valueOf(obj, "lens_coeffs_1x4")); err != nil {
		return nil, err
	}
	for key, dst := range map[string]*float64{
		"center_x": &f.CenterX,
		"center_y": &f.CenterY,
		"radius_x": &f.RadiusX,
		"radius_y": &f.RadiusY,
	} {
		raw, ok := obj.Get(key)
		if !ok {
			continue
		}
		if *dst, err = floatValue(raw); err != nil {
			return nil, fmt.Errorf("%q: %w", key, err)
		}
	}
	return &f, nil
}

func parseSync(obj *v4.Object) (*core.StreamSync, error) {
	var sync core.StreamSync
	if _, ok := obj.Get("frame_shift"); ok {
		shift, err := intValue(obj, "frame_shift")
		if err != nil {
			return nil, err
		}
		sync.FrameShift = &shift
		return &sync, nil
	}
	if _, ok := obj.Get("frame_stream"); ok {
		n, err := intValue(obj, "frame_stream")
		if err != nil {
			return nil, err
		}
		sync.FrameStream = n
	}
	sync.Timestamp, _ = obj.GetString("timestamp")
	return &sync, nil
}

func valueOf(obj *v4.Object, key string) any {
	v, _ := obj.Get(key)
	return v
}

// toMap converts a decoded object into plain Go values
func toMap(obj *v4.Object) map[string]any {
	out := make(map[string]any, obj.Len())
	for _, key := range obj.Keys() {
		v, _ := obj.Get(key)
		out[key] = toValue(v)
	}
	return out
}

func toValue(v any) any {
	switch v := v.(type) {
	case *v4.Object:
		return toMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = toValue(item)
		}
		return out
	default:
		return v
	}
}

// sortedUIDs returns the keys of obj ordered numerically. Non-numeric keys
// keep their document order after the numeric ones. Used for ontologies,
// whose uids are list indices.
func sortedUIDs(obj *v4.Object) []string {
	keys := obj.Keys()
	slices.SortStableFunc(keys, func(a, b string) int {
		ia, errA := strconv.Atoi(a)
		ib, errB := strconv.Atoi(b)
		switch {
		case errA != nil && errB != nil:
			return 0
		case errA != nil:
			return 1
		case errB != nil:
			return -1
		}
		return cmp.Compare(ia, ib)
	})
	return keys
}
