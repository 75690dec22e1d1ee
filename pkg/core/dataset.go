// pkg/core/dataset.go
package core

// DataEntry is one named field of a DataSet with the frames it is defined on.
// Empty Intervals mean the field is static (element-level).
type DataEntry struct {
	Data      ElementData
	Intervals FrameIntervals
}

// DataSet maps field names to entries, keeping first-insertion order.
// Setting an existing name replaces the value and unions the intervals;
// a name never appears twice.
type DataSet struct {
	order   []string
	entries map[string]*DataEntry
}

// NewDataSet creates an empty set
func NewDataSet() *DataSet {
	return &DataSet{entries: make(map[string]*DataEntry)}
}

// Set upserts data by name. The stored value and kind are overwritten and
// the stored intervals become union(stored, intervals).
// Returns true when an existing entry was replaced.
func (s *DataSet) Set(data ElementData, intervals FrameIntervals) bool {
	data = data.Clone()
	if s.entries == nil {
		s.entries = make(map[string]*DataEntry)
	}
	if entry, ok := s.entries[data.Name]; ok {
		entry.Data = data
		entry.Intervals = entry.Intervals.Union(intervals)
		return true
	}
	s.entries[data.Name] = &DataEntry{
		Data:      data,
		Intervals: NewFrameIntervals(intervals...),
	}
	s.order = append(s.order, data.Name)
	return false
}

// SetAttribute upserts attr into the attributes of the stored field name.
func (s *DataSet) SetAttribute(name string, attr ElementData) (bool, error) {
	if s == nil {
		return false, nil
	}
	entry, ok := s.entries[name]
	if !ok {
		return false, nil
	}
	if err := entry.Data.AddAttribute(attr); err != nil {
		return true, err
	}
	return true, nil
}

// Get returns the entry stored under name
func (s *DataSet) Get(name string) (DataEntry, bool) {
	if s == nil {
		return DataEntry{}, false
	}
	entry, ok := s.entries[name]
	if !ok {
		return DataEntry{}, false
	}
	return *entry, true
}

// At returns the value of name if frame lies within its intervals.
func (s *DataSet) At(name string, frame int) (ElementData, bool) {
	entry, ok := s.Get(name)
	if !ok || !entry.Intervals.Has(frame) {
		return ElementData{}, false
	}
	return entry.Data, true
}

// Has reports whether name is present
func (s *DataSet) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the field names in first-insertion order
func (s *DataSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of fields
func (s *DataSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Entries returns the entries in first-insertion order
func (s *DataSet) Entries() []DataEntry {
	if s == nil {
		return nil
	}
	out := make([]DataEntry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.entries[name])
	}
	return out
}

// Intervals returns the union of the intervals of every field
func (s *DataSet) Intervals() FrameIntervals {
	var out FrameIntervals
	for _, entry := range s.Entries() {
		out = out.Union(entry.Intervals)
	}
	return out
}

// Delete removes name, reporting whether it was present
func (s *DataSet) Delete(name string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.entries[name]; !ok {
		return false
	}
	delete(s.entries, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Restrict intersects every dynamic field with scope and drops the fields
// left without frames. Static fields are kept.
func (s *DataSet) Restrict(scope FrameIntervals) {
	for _, name := range s.Names() {
		entry := s.entries[name]
		if entry.Intervals.Empty() {
			continue
		}
		entry.Intervals = entry.Intervals.Intersection(scope)
		if entry.Intervals.Empty() {
			s.Delete(name)
		}
	}
}

// Clone returns a deep copy of the set
func (s *DataSet) Clone() *DataSet {
	if s == nil {
		return nil
	}
	out := NewDataSet()
	for _, name := range s.order {
		entry := s.entries[name]
		out.entries[name] = &DataEntry{
			Data:      entry.Data.Clone(),
			Intervals: append(FrameIntervals(nil), entry.Intervals...),
		}
		out.order = append(out.order, name)
	}
	return out
}
