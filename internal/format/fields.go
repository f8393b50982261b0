// Package format flattens normalized records into CSV-ready rows driven by
// declarative field tables.
package format

// Set is a set of field names.
type Set map[string]struct{}

// NewSet builds a Set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in s.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// FieldSet is the export contract of one entity kind: the column order and
// which columns hold lists or booleans.
type FieldSet struct {
	Fields  []string
	Plural  Set
	Boolean Set
}

// NewFieldSet builds a FieldSet. Every plural and boolean field must also
// appear in fields.
func NewFieldSet(fields []string, plural, boolean []string) FieldSet {
	return FieldSet{
		Fields:  fields,
		Plural:  NewSet(plural...),
		Boolean: NewSet(boolean...),
	}
}

// Mutator returns the in-place row mutator of fs.
func (fs FieldSet) Mutator() RowMutator {
	return MakeRowMutator(fs.Plural, fs.Boolean)
}

// Formatter returns the row formatter of fs.
func (fs FieldSet) Formatter() RowFormatter {
	return MakeRowFormatter(fs.Fields, fs.Plural, fs.Boolean)
}
