package recordtype

// Kind identifies which shape a Node represents in the compiled type tree.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindInteger
	KindBoolean
	KindNull
	KindEnum
	KindArray
	KindObject
)

// Node is one level of the compiled tagged-variant type tree built from a
// JSON Schema document: Scalar | Array<T> | Object<fields>. It is built
// once per schema and reused for every validate/serialize/match call.
type Node struct {
	Kind Kind

	// Enum holds the closed set of literal values when Kind == KindEnum.
	Enum []any

	// Items is the element type when Kind == KindArray.
	Items *Node

	// Fields holds the property set, sorted by property name, when
	// Kind == KindObject.
	Fields []*Field

	// Required mirrors the schema's "required" list for this object level.
	Required map[string]bool
}

// Field is one named property of an object-kind Node.
type Field struct {
	Name string
	Type *Node
}

// FieldNames returns the declared property names of an object node.
func (n *Node) FieldNames() []string {
	names := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		names = append(names, f.Name)
	}
	return names
}

// FieldByName returns the Field with the given name, or nil.
func (n *Node) FieldByName(name string) *Field {
	for _, f := range n.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}
