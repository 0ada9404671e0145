// Package pdfobj is a small object model for rewriting whole PDF files.
//
// It parses every indirect object of a file, lets callers transform
// strings and streams, and serializes the result with a fresh xref table.
// Reading the page tree of an unmodified document is done with
// github.com/digitorus/pdf; this package exists for the cases where every
// byte of every object has to be touched, such as applying encryption.
package pdfobj

import (
	"sort"
)

// Object is one of Null, Bool, Integer, Real, Name, String, Array, *Dict,
// Ref, *Stream or Raw.
type Object interface{}

// Null is the PDF null object.
type Null struct{}

// Bool is a PDF boolean.
type Bool bool

// Integer is a PDF integer.
type Integer int64

// Real is a PDF real number.
type Real float64

// Name is a PDF name without the leading solidus.
type Name string

// String is a PDF string. Hex records the syntax it was read with.
type String struct {
	Value []byte
	Hex   bool
}

// Array is a PDF array.
type Array []Object

// Ref is an indirect reference.
type Ref struct {
	Num int
	Gen int
}

// Raw is emitted verbatim by the writer and never transformed.
type Raw []byte

// Stream is a stream object. Data holds the encoded bytes as found in
// the file, filters are not applied.
type Stream struct {
	Dict *Dict
	Data []byte
}

// Dict is a dictionary that keeps the insertion order of its keys.
type Dict struct {
	keys   []Name
	values map[Name]Object
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[Name]Object)}
}

// Get returns the value for key or nil.
func (d *Dict) Get(key Name) Object {
	if d == nil {
		return nil
	}
	return d.values[key]
}

// Set adds or replaces key.
func (d *Dict) Set(key Name, value Object) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Delete removes key.
func (d *Dict) Delete(key Name) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Name {
	if d == nil {
		return nil
	}
	return d.keys
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Name returns the value of key if it is a name.
func (d *Dict) Name(key Name) (Name, bool) {
	n, ok := d.Get(key).(Name)
	return n, ok
}

// Int returns the value of key if it is an integer.
func (d *Dict) Int(key Name) (int64, bool) {
	i, ok := d.Get(key).(Integer)
	return int64(i), ok
}

// Indirect is an object definition "num gen obj ... endobj".
type Indirect struct {
	Ref    Ref
	Value  Object
	Offset int64
}

// File is the parsed content of a PDF file.
type File struct {
	Version string
	Objects map[int]*Indirect
	Trailer *Dict
}

// Nums returns the defined object numbers in ascending order.
func (f *File) Nums() []int {
	nums := make([]int, 0, len(f.Objects))
	for num := range f.Objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

// Resolve follows a reference to its value. Other objects are returned
// unchanged.
func (f *File) Resolve(obj Object) Object {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj
		}
		ind, ok := f.Objects[ref.Num]
		if !ok {
			return Null{}
		}
		obj = ind.Value
	}
	return Null{}
}

// Walk calls fn for every string reachable inside obj without following
// references. fn may replace the string by returning a new value. The
// path holds the dictionary keys leading to the string.
func Walk(obj Object, path []Name, fn func(path []Name, s String) (Object, error)) (Object, error) {
	switch v := obj.(type) {
	case String:
		return fn(path, v)
	case Array:
		for i, item := range v {
			out, err := Walk(item, path, fn)
			if err != nil {
				return nil, err
			}
			v[i] = out
		}
		return v, nil
	case *Dict:
		for _, key := range v.keys {
			out, err := Walk(v.values[key], append(path, key), fn)
			if err != nil {
				return nil, err
			}
			v.values[key] = out
		}
		return v, nil
	case *Stream:
		if _, err := Walk(v.Dict, path, fn); err != nil {
			return nil, err
		}
		return v, nil
	}
	return obj, nil
}
