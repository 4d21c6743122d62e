package capnpcore

import "github.com/cloudflare/capnpcore/exc"

// StructSize is the data/pointer layout generated code declares for a
// schema struct. It is the same type as ObjectSize; the alias gives
// generated accessors a name that reads as "the size of this struct" at
// the call site, matching the convention generated code would use for a
// type like TunnelAuth_Size (tunnelrpc/tunnelrpc.capnp.go's naming).
type StructSize = ObjectSize

// HasStructSize is implemented by every generated struct wrapper, letting
// generic helpers (NewStructList, for instance) learn a type's wire
// layout without the caller repeating it.
type HasStructSize interface {
	StructSize() StructSize
}

// TextList is a list of text fields, the typed view generated code
// produces for a `List(Text)` schema field.
type TextList struct {
	List
}

// NewTextList allocates a list of count text pointers.
func NewTextList(seg *Segment, count int32) (TextList, error) {
	l, err := NewPointerList(seg, count)
	if err != nil {
		return TextList{}, exc.WrapError("new text list", err)
	}
	return TextList{List(l)}, nil
}

// At returns the i'th string in the list.
func (l TextList) At(i int) (string, error) {
	p, err := PointerList(l.List).At(i)
	if err != nil {
		return "", err
	}
	return p.Text("")
}

// Set sets the i'th string in the list.
func (l TextList) Set(i int, v string) error {
	p, err := NewText(l.seg, v)
	if err != nil {
		return err
	}
	return PointerList(l.List).Set(i, p)
}

// DataList is a list of byte-blob fields, the typed view generated code
// produces for a `List(Data)` schema field.
type DataList struct {
	List
}

// NewDataList allocates a list of count data pointers.
func NewDataList(seg *Segment, count int32) (DataList, error) {
	l, err := NewPointerList(seg, count)
	if err != nil {
		return DataList{}, exc.WrapError("new data list", err)
	}
	return DataList{List(l)}, nil
}

// At returns the i'th blob in the list.
func (l DataList) At(i int) ([]byte, error) {
	p, err := PointerList(l.List).At(i)
	if err != nil {
		return nil, err
	}
	return p.Data(nil)
}

// Set sets the i'th blob in the list.
func (l DataList) Set(i int, v []byte) error {
	p, err := NewData(l.seg, v)
	if err != nil {
		return err
	}
	return PointerList(l.List).Set(i, p)
}

// NewStructList allocates an inline-composite list of count elements
// sized for T, the pattern generated code uses for a `List(SomeStruct)`
// schema field.
func NewStructList[T HasStructSize](seg *Segment, count int32, wrap func(Struct) T) ([]T, error) {
	var zero T
	l, err := NewCompositeList(seg, zero.StructSize(), count)
	if err != nil {
		return nil, exc.WrapError("new struct list", err)
	}
	out := make([]T, count)
	for i := range out {
		out[i] = wrap(l.Struct(i))
	}
	return out, nil
}

// StructListAt reads the i'th element of a composite list previously
// built by NewStructList, or read off the wire from generated schema
// code, as a T.
func StructListAt[T HasStructSize](l List, i int, wrap func(Struct) T) T {
	return wrap(l.Struct(i))
}
