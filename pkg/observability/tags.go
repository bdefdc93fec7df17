package observability

// Tag is a single span tag.
type Tag struct {
	Key   string
	Value string
}

// Tags is an immutable, ordered set of span tags with unique keys. The zero
// value is an empty set.
type Tags struct {
	list []Tag
}

// NewTags creates Tags from the provided tags, keeping their order. When a key
// is repeated the last value wins but the key keeps its first position.
func NewTags(tags ...Tag) Tags {
	list := make([]Tag, 0, len(tags))
	index := make(map[string]int, len(tags))
	for _, t := range tags {
		if i, ok := index[t.Key]; ok {
			list[i].Value = t.Value
			continue
		}
		index[t.Key] = len(list)
		list = append(list, t)
	}
	return Tags{list: list}
}

// Len returns the number of tags.
func (t Tags) Len() int {
	return len(t.list)
}

// Get returns the value for key and whether it is present.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t.list {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Each calls fn for every tag in order.
func (t Tags) Each(fn func(key, value string)) {
	for _, tag := range t.list {
		fn(tag.Key, tag.Value)
	}
}

// Slice returns a copy of the tags in order.
func (t Tags) Slice() []Tag {
	out := make([]Tag, len(t.list))
	copy(out, t.list)
	return out
}

// Map returns the tags as a newly allocated map.
func (t Tags) Map() map[string]string {
	out := make(map[string]string, len(t.list))
	for _, tag := range t.list {
		out[tag.Key] = tag.Value
	}
	return out
}

// Merge returns new Tags holding t followed by other. Values of other win on
// key collisions.
func (t Tags) Merge(other Tags) Tags {
	if other.Len() == 0 {
		return t
	}
	if t.Len() == 0 {
		return other
	}
	all := make([]Tag, 0, len(t.list)+len(other.list))
	all = append(all, t.list...)
	all = append(all, other.list...)
	return NewTags(all...)
}
