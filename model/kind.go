package model

import "fmt"

// Kind is the storage class of a node. The set is closed; behaviour that
// depends on it switches on the value instead of dispatching through an
// interface.
type Kind uint8

const (
	KindRoot Kind = iota
	KindDense
	KindPointer
	KindBitmasked
	KindDynamic
	KindPlace
)

var kindNames = [...]string{
	KindRoot:      "root",
	KindDense:     "dense",
	KindPointer:   "pointer",
	KindBitmasked: "bitmasked",
	KindDynamic:   "dynamic",
	KindPlace:     "place",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a declaration keyword to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// IsSparse reports whether cells of this kind can be inactive.
func (k Kind) IsSparse() bool {
	switch k {
	case KindPointer, KindBitmasked, KindDynamic:
		return true
	}
	return false
}

// HasActivationBit reports whether every cell carries an explicit activation bit.
func (k Kind) HasActivationBit() bool {
	return k == KindPointer || k == KindBitmasked
}

// AllocatesLazily reports whether cell storage is allocated on activation.
func (k Kind) AllocatesLazily() bool {
	return k == KindPointer
}

// TracksLength reports whether activity is a logical length per container.
func (k Kind) TracksLength() bool {
	return k == KindDynamic
}

// DataType is the scalar type of a place component.
type DataType uint8

const (
	F32 DataType = iota
	F64
	I32
	I64
	U8
)

var dataTypes = [...]struct {
	name string
	size uint64
}{
	F32: {"f32", 4},
	F64: {"f64", 8},
	I32: {"i32", 4},
	I64: {"i64", 8},
	U8:  {"u8", 1},
}

func (d DataType) String() string {
	if int(d) < len(dataTypes) {
		return dataTypes[d].name
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Size returns the byte size of one scalar, 0 for unknown types.
func (d DataType) Size() uint64 {
	if int(d) < len(dataTypes) {
		return dataTypes[d].size
	}
	return 0
}

// ParseDataType maps a type keyword such as "f32" to a DataType.
func ParseDataType(s string) (DataType, error) {
	for d, t := range dataTypes {
		if t.name == s {
			return DataType(d), nil
		}
	}
	return 0, fmt.Errorf("unknown component type %q", s)
}
