// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/storage"
	v4 "github.com/OCAP2/vcd/internal/storage/memory/export/v4"
	"github.com/OCAP2/vcd/pkg/core"
)

// elementStore holds the elements of one category in creation order
type elementStore struct {
	elements map[int]*core.Element
	order    []int
	lastUID  int
}

func newElementStore() *elementStore {
	return &elementStore{
		elements: make(map[int]*core.Element),
		lastUID:  -1,
	}
}

func (s *elementStore) insert(e *core.Element) {
	s.elements[e.UID] = e
	s.order = append(s.order, e.UID)
	s.lastUID = max(s.lastUID, e.UID)
}

func (s *elementStore) remove(uid int) {
	delete(s.elements, uid)
	if i := slices.Index(s.order, uid); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the logger used for mutation tracing
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// Backend is an in-memory VCD document. It owns every element, keeps the
// document frame intervals equal to the union of all element intervals and
// serializes to the VCD 4.x JSON format.
type Backend struct {
	cfg    config.DocumentConfig
	logger *slog.Logger
	stats  counters

	name        string
	fileVersion string
	metadata    core.Metadata
	ontologies  []string
	streams     []core.Stream
	frameProps  map[int]core.FrameProperties

	stores         map[core.ElementType]*elementStore
	frameIntervals core.FrameIntervals

	// built export, dropped on every mutation
	cached *v4.Object

	mu sync.RWMutex
}

// New creates an empty document
func New(cfg config.DocumentConfig, opts ...Option) *Backend {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = core.DefaultSchemaVersion
	}
	b := &Backend{
		cfg:        cfg,
		logger:     slog.Default(),
		stats:      newCounters(),
		frameProps: make(map[int]core.FrameProperties),
		stores:     make(map[core.ElementType]*elementStore),
	}
	for _, t := range core.ElementTypes {
		b.stores[t] = newElementStore()
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// SchemaVersion returns the schema version written to the document
func (b *Backend) SchemaVersion() string {
	return b.cfg.SchemaVersion
}

// invalidate must be called with the write lock held after every mutation
func (b *Backend) invalidate() {
	b.cached = nil
}

func (b *Backend) store(t core.ElementType) (*elementStore, error) {
	s, ok := b.stores[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrInvalidCategory, t)
	}
	return s, nil
}

func (b *Backend) lookup(t core.ElementType, uid int) (*core.Element, error) {
	s, err := b.store(t)
	if err != nil {
		return nil, err
	}
	e, ok := s.elements[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", storage.ErrElementNotFound, t, uid)
	}
	return e, nil
}

// recomputeFrameIntervals rebuilds the document intervals from scratch.
// Used after operations that can shrink element intervals.
func (b *Backend) recomputeFrameIntervals() {
	var all core.FrameIntervals
	for _, s := range b.stores {
		for _, e := range s.elements {
			all = all.Union(e.Intervals)
		}
	}
	b.frameIntervals = all
}

// AddElement registers e under the next uid of its category and writes the
// uid back into e.
func (b *Backend) AddElement(e *core.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.store(e.Category)
	if err != nil {
		return err
	}
	return b.insert(s, e, s.lastUID+1)
}

// AddElementWithUID registers e under its own uid. The category counter moves
// past it so later AddElement calls never collide.
func (b *Backend) AddElementWithUID(e *core.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.store(e.Category)
	if err != nil {
		return err
	}
	if e.UID < 0 {
		return fmt.Errorf("%w: negative uid %d", storage.ErrInvalidUID, e.UID)
	}
	if _, ok := s.elements[e.UID]; ok {
		return fmt.Errorf("%w: %s %d", storage.ErrDuplicateUID, e.Category, e.UID)
	}
	return b.insert(s, e, e.UID)
}

func (b *Backend) insert(s *elementStore, e *core.Element, uid int) error {
	if err := e.Intervals.Validate(); err != nil {
		return err
	}
	if e.OntologyUID != "" {
		if _, err := b.ontology(e.OntologyUID); err != nil {
			return err
		}
	}
	if e.Stream != "" && !b.hasStream(e.Stream) {
		return fmt.Errorf("%w: %q", storage.ErrStreamNotFound, e.Stream)
	}
	if e.Category == core.ElementRelation && e.Data.Len() > 0 {
		return fmt.Errorf("%w: relations carry no data", storage.ErrInvalidCategory)
	}

	stored := e.Clone()
	stored.UID = uid
	if stored.Data == nil {
		stored.Data = core.NewDataSet()
	}
	stored.Intervals = core.NewFrameIntervals(stored.Intervals...).Union(stored.Data.Intervals())
	e.UID = uid
	e.Intervals = stored.Intervals

	s.insert(&stored)
	b.frameIntervals = b.frameIntervals.Union(stored.Intervals)
	b.invalidate()

	b.stats.elementsAdded.Add(context.Background(), 1)
	b.logger.Debug("Element added",
		"category", stored.Category.String(),
		"uid", stored.UID,
		"type", stored.Type,
		"intervals", len(stored.Intervals))
	return nil
}

// AddElementData sets data on the element over intervals. A field with the
// same name is replaced and its intervals extended. Empty intervals make the
// field static.
func (b *Backend) AddElementData(t core.ElementType, uid int, data core.ElementData, intervals core.FrameIntervals) error {
	if t == core.ElementRelation {
		return fmt.Errorf("%w: relations carry no data", storage.ErrInvalidCategory)
	}
	if err := intervals.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return err
	}

	replaced := e.Data.Set(data, intervals)
	e.Intervals = e.Intervals.Union(intervals)
	b.frameIntervals = b.frameIntervals.Union(intervals)
	b.invalidate()

	ctx := context.Background()
	b.stats.dataSet.Add(ctx, 1)
	if replaced {
		b.stats.dataSubstituted.Add(ctx, 1)
	}
	return nil
}

// AddElementDataAttribute nests attr under the existing field dataName. An
// attribute with the same name is replaced.
func (b *Backend) AddElementDataAttribute(t core.ElementType, uid int, dataName string, attr core.ElementData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return err
	}
	found, err := e.Data.SetAttribute(dataName, attr)
	if !found {
		return fmt.Errorf("%w: %s %d %q", storage.ErrDataNotFound, t, uid, dataName)
	}
	if err != nil {
		return err
	}
	b.invalidate()
	return nil
}

// UpdateElement extends the element intervals
func (b *Backend) UpdateElement(t core.ElementType, uid int, intervals core.FrameIntervals) error {
	if err := intervals.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return err
	}
	if t == core.ElementRelation && e.Intervals.Empty() {
		return fmt.Errorf("%w: %d", storage.ErrFramelessRelation, uid)
	}

	e.Intervals = e.Intervals.Union(intervals)
	b.frameIntervals = b.frameIntervals.Union(intervals)
	b.invalidate()
	return nil
}

// ModifyElement replaces the element intervals. Dynamic data is restricted to
// the new scope and fields left without frames are dropped.
func (b *Backend) ModifyElement(t core.ElementType, uid int, intervals core.FrameIntervals) error {
	if err := intervals.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return err
	}
	if t == core.ElementRelation && e.Intervals.Empty() {
		return fmt.Errorf("%w: %d", storage.ErrFramelessRelation, uid)
	}

	e.Intervals = core.NewFrameIntervals(intervals...)
	e.Data.Restrict(e.Intervals)
	b.recomputeFrameIntervals()
	b.invalidate()
	return nil
}

// ModifyElementInfo overwrites the descriptive fields set in info. A new
// ontology uid or stream must already be registered.
func (b *Backend) ModifyElementInfo(t core.ElementType, uid int, info core.ElementInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return err
	}
	if info.OntologyUID != nil && *info.OntologyUID != "" {
		if _, err := b.ontology(*info.OntologyUID); err != nil {
			return err
		}
	}
	if info.Stream != nil && *info.Stream != "" && !b.hasStream(*info.Stream) {
		return fmt.Errorf("%w: %q", storage.ErrStreamNotFound, *info.Stream)
	}
	if info.Empty() {
		return nil
	}

	info.Apply(e)
	b.invalidate()
	b.logger.Debug("Element modified", "category", t.String(), "uid", uid, "name", e.Name, "type", e.Type)
	return nil
}

// RemoveElement deletes the element and every relation link pointing at it.
// Its uid is never handed out again.
func (b *Backend) RemoveElement(t core.ElementType, uid int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lookup(t, uid); err != nil {
		return err
	}
	b.removeLocked(t, uid)
	b.recomputeFrameIntervals()
	b.invalidate()
	return nil
}

// RemoveElementsByType deletes every element of category t with the given
// semantic type and returns how many were removed.
func (b *Backend) RemoveElementsByType(t core.ElementType, semanticType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stores[t]
	if !ok {
		return 0
	}
	var uids []int
	for _, uid := range s.order {
		if s.elements[uid].Type == semanticType {
			uids = append(uids, uid)
		}
	}
	for _, uid := range uids {
		b.removeLocked(t, uid)
	}
	if len(uids) > 0 {
		b.recomputeFrameIntervals()
		b.invalidate()
	}
	return len(uids)
}

func (b *Backend) removeLocked(t core.ElementType, uid int) {
	b.stores[t].remove(uid)
	pointsAt := func(l core.RDFLink) bool { return l.Type == t && l.UID == uid }
	for _, rel := range b.stores[core.ElementRelation].elements {
		rel.RDFSubjects = slices.DeleteFunc(rel.RDFSubjects, pointsAt)
		rel.RDFObjects = slices.DeleteFunc(rel.RDFObjects, pointsAt)
	}
	b.logger.Debug("Element removed", "category", t.String(), "uid", uid)
}

// AddRDF links the element (t, uid) to a relation as subject or object
func (b *Backend) AddRDF(relationUID int, rdf core.RDFType, t core.ElementType, uid int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rel, err := b.lookup(core.ElementRelation, relationUID)
	if err != nil {
		return err
	}
	if _, err := b.lookup(t, uid); err != nil {
		return err
	}

	link := core.RDFLink{UID: uid, Type: t}
	switch rdf {
	case core.RDFSubject:
		if !slices.Contains(rel.RDFSubjects, link) {
			rel.RDFSubjects = append(rel.RDFSubjects, link)
		}
	case core.RDFObject:
		if !slices.Contains(rel.RDFObjects, link) {
			rel.RDFObjects = append(rel.RDFObjects, link)
		}
	default:
		return fmt.Errorf("unknown rdf type %d", rdf)
	}
	b.invalidate()
	return nil
}

// AddFrameProperties merges props into the properties of frame. A non-empty
// timestamp or a set odometry replaces the stored one; stream properties are
// merged per stream.
func (b *Backend) AddFrameProperties(frame int, props core.FrameProperties) error {
	if frame < 0 {
		return fmt.Errorf("%w: frame %d", core.ErrInvalidInterval, frame)
	}
	if props.Odometry != nil {
		if err := props.Odometry.Validate(); err != nil {
			return err
		}
	}
	for _, sp := range props.Streams {
		if err := sp.Validate(); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for name := range props.Streams {
		if !b.hasStream(name) {
			return fmt.Errorf("%w: %q", storage.ErrStreamNotFound, name)
		}
	}

	props = props.Clone()
	fp := b.frameProps[frame]
	if props.Timestamp != "" {
		fp.Timestamp = props.Timestamp
	}
	if len(props.Properties) > 0 {
		if fp.Properties == nil {
			fp.Properties = make(map[string]any, len(props.Properties))
		}
		maps.Copy(fp.Properties, props.Properties)
	}
	if props.Odometry != nil {
		fp.Odometry = props.Odometry
	}
	for name, sp := range props.Streams {
		if fp.Streams == nil {
			fp.Streams = make(map[string]core.StreamProperties, len(props.Streams))
		}
		fp.Streams[name] = fp.Streams[name].Merge(sp)
	}
	b.frameProps[frame] = fp
	b.invalidate()
	return nil
}

// AddOdometry sets the odometry of frame
func (b *Backend) AddOdometry(frame int, odometry core.Odometry) error {
	return b.AddFrameProperties(frame, core.FrameProperties{Odometry: &odometry})
}

// AddFrameStreamProperties merges calibration or sync information of stream
// that only holds at frame.
func (b *Backend) AddFrameStreamProperties(frame int, stream string, props core.StreamProperties) error {
	if props.Empty() {
		return nil
	}
	return b.AddFrameProperties(frame, core.FrameProperties{
		Streams: map[string]core.StreamProperties{stream: props},
	})
}

// AddStreamProperties merges static calibration or sync information into a
// registered stream.
func (b *Backend) AddStreamProperties(stream string, props core.StreamProperties) error {
	if props.Empty() {
		return nil
	}
	if err := props.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.streams, func(s core.Stream) bool { return s.Name == stream })
	if i < 0 {
		return fmt.Errorf("%w: %q", storage.ErrStreamNotFound, stream)
	}
	b.streams[i].Properties = b.streams[i].Properties.Merge(props)
	b.invalidate()
	return nil
}

func (b *Backend) hasStream(name string) bool {
	return slices.ContainsFunc(b.streams, func(st core.Stream) bool { return st.Name == name })
}

// SetName sets the document name
func (b *Backend) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
	b.invalidate()
}

// SetFileVersion sets the version of the annotation file itself
func (b *Backend) SetFileVersion(version string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fileVersion = version
	b.invalidate()
}

// SetAnnotator sets the metadata annotator
func (b *Backend) SetAnnotator(annotator string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata.Annotator = annotator
	b.invalidate()
}

// SetComment sets the metadata comment
func (b *Backend) SetComment(comment string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata.Comment = comment
	b.invalidate()
}

// AddMetadataProperties merges free properties into the metadata
func (b *Backend) AddMetadataProperties(props map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metadata.Properties == nil {
		b.metadata.Properties = make(map[string]any, len(props))
	}
	maps.Copy(b.metadata.Properties, props)
	b.invalidate()
}

// AddOntology registers an ontology url and returns its uid. A url that is
// already registered returns the existing uid.
func (b *Backend) AddOntology(url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%w: empty url", storage.ErrOntologyNotFound)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if i := slices.Index(b.ontologies, url); i >= 0 {
		return strconv.Itoa(i), nil
	}
	b.ontologies = append(b.ontologies, url)
	b.invalidate()
	return strconv.Itoa(len(b.ontologies) - 1), nil
}

// AddStream registers a sensor stream. A stream with the same name is replaced.
func (b *Backend) AddStream(st core.Stream) error {
	if st.Name == "" {
		return fmt.Errorf("%w: empty name", storage.ErrStreamNotFound)
	}
	if st.Type == "" {
		st.Type = core.StreamOther
	}
	if err := st.Properties.Validate(); err != nil {
		return err
	}
	st = st.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	if i := slices.IndexFunc(b.streams, func(s core.Stream) bool { return s.Name == st.Name }); i >= 0 {
		b.streams[i] = st
	} else {
		b.streams = append(b.streams, st)
	}
	b.invalidate()
	return nil
}

// Has reports whether the element exists
func (b *Backend) Has(t core.ElementType, uid int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, err := b.lookup(t, uid)
	return err == nil
}

// Element returns a copy of the element
func (b *Backend) Element(t core.ElementType, uid int) (core.Element, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return core.Element{}, err
	}
	return e.Clone(), nil
}

// NumElements returns the number of elements of category t
func (b *Backend) NumElements(t core.ElementType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s, ok := b.stores[t]; ok {
		return len(s.order)
	}
	return 0
}

// UIDs returns the uids of category t in creation order
func (b *Backend) UIDs(t core.ElementType) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s, ok := b.stores[t]; ok {
		return slices.Clone(s.order)
	}
	return nil
}

// ElementsOfType returns the uids of the elements with the given semantic type
func (b *Backend) ElementsOfType(t core.ElementType, semanticType string) []int {
	return b.filter(t, func(e *core.Element) bool { return e.Type == semanticType })
}

// ElementsWithDataName returns the uids of the elements carrying field name
func (b *Backend) ElementsWithDataName(t core.ElementType, name string) []int {
	return b.filter(t, func(e *core.Element) bool { return e.Data.Has(name) })
}

func (b *Backend) filter(t core.ElementType, match func(*core.Element) bool) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.stores[t]
	if !ok {
		return nil
	}
	var uids []int
	for _, uid := range s.order {
		if match(s.elements[uid]) {
			uids = append(uids, uid)
		}
	}
	return uids
}

// ElementFrameIntervals returns the intervals of the element
func (b *Backend) ElementFrameIntervals(t core.ElementType, uid int) (core.FrameIntervals, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.Intervals), nil
}

func (b *Backend) entry(t core.ElementType, uid int, name string) (core.DataEntry, error) {
	e, err := b.lookup(t, uid)
	if err != nil {
		return core.DataEntry{}, err
	}
	entry, ok := e.Data.Get(name)
	if !ok {
		return core.DataEntry{}, fmt.Errorf("%w: %s %d %q", storage.ErrDataNotFound, t, uid, name)
	}
	return entry, nil
}

// DataFrameIntervals returns the intervals of field name. Static fields have
// none.
func (b *Backend) DataFrameIntervals(t core.ElementType, uid int, name string) (core.FrameIntervals, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, err := b.entry(t, uid, name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(entry.Intervals), nil
}

// ElementData returns the current value of field name regardless of frame
func (b *Backend) ElementData(t core.ElementType, uid int, name string) (core.ElementData, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, err := b.entry(t, uid, name)
	if err != nil {
		return core.ElementData{}, err
	}
	return entry.Data.Clone(), nil
}

// ElementDataAt returns field name if frame lies within its intervals. The
// boolean is false when the field is absent or not defined at frame; an
// error is only returned for an unknown element.
func (b *Backend) ElementDataAt(t core.ElementType, uid int, name string, frame int) (core.ElementData, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.lookup(t, uid)
	if err != nil {
		return core.ElementData{}, false, err
	}
	data, ok := e.Data.At(name, frame)
	if !ok {
		return core.ElementData{}, false, nil
	}
	return data.Clone(), true, nil
}

// FrameIntervals returns the document intervals
func (b *Backend) FrameIntervals() core.FrameIntervals {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.frameIntervals)
}

// Name returns the document name
func (b *Backend) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// Metadata returns a copy of the document metadata
func (b *Backend) Metadata() core.Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	md := b.metadata
	md.Properties = maps.Clone(b.metadata.Properties)
	return md
}

// Ontology returns the url registered under uid
func (b *Backend) Ontology(uid string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ontology(uid)
}

func (b *Backend) ontology(uid string) (string, error) {
	i, err := strconv.Atoi(uid)
	if err != nil || i < 0 || i >= len(b.ontologies) {
		return "", fmt.Errorf("%w: %q", storage.ErrOntologyNotFound, uid)
	}
	return b.ontologies[i], nil
}

// Streams returns the registered streams
func (b *Backend) Streams() []core.Stream {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Stream, len(b.streams))
	for i, st := range b.streams {
		out[i] = st.Clone()
	}
	return out
}

// FrameProperties returns the properties of frame
func (b *Backend) FrameProperties(frame int) (core.FrameProperties, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	fp, ok := b.frameProps[frame]
	if !ok {
		return core.FrameProperties{}, false
	}
	return fp.Clone(), true
}

// documentData snapshots the state for the serializer. Caller holds a lock.
func (b *Backend) documentData() *v4.DocumentData {
	data := &v4.DocumentData{
		SchemaVersion:   b.cfg.SchemaVersion,
		Name:            b.name,
		FileVersion:     b.fileVersion,
		Metadata:        b.metadata,
		Ontologies:      b.ontologies,
		Streams:         b.streams,
		FrameIntervals:  b.frameIntervals,
		FrameProperties: b.frameProps,
		Elements:        make(map[core.ElementType][]*core.Element, len(b.stores)),
	}
	for t, s := range b.stores {
		elements := make([]*core.Element, 0, len(s.order))
		for _, uid := range s.order {
			elements = append(elements, s.elements[uid])
		}
		data.Elements[t] = elements
	}
	return data
}
