package field

// A Type is the closed set of field kinds. It is resolved once, when the
// field is declared, and never inferred from values at access time.
type Type uint8

// List of field types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeEnum
	TypeBytes
	TypeTime
	TypeUUID
	TypeJSON
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeString:  "string",
	TypeEnum:    "enum",
	TypeBytes:   "bytes",
	TypeTime:    "time",
	TypeUUID:    "uuid",
	TypeJSON:    "json",
}

// String returns the string representation of a type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type if known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeFloat
}

// Textual reports if length bounds apply to the type.
func (t Type) Textual() bool {
	return t == TypeString || t == TypeBytes
}

// Comparable reports if values of the type can be composed into a
// primary key: they have a total order and a stable equality.
func (t Type) Comparable() bool {
	switch t {
	case TypeInt, TypeString, TypeUUID:
		return true
	}
	return false
}

// ParseType returns the type with the given name. It is the inverse of String.
func ParseType(s string) (Type, bool) {
	for t := TypeBool; t < endTypes; t++ {
		if typeNames[t] == s {
			return t, true
		}
	}
	return TypeInvalid, false
}
