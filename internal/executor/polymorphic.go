package executor

// PolymorphicData is the value a polymorphic discriminator step yields per
// row: the resolved concrete type and the value to continue with.
type PolymorphicData struct {
	TypeName string
	Data     any
}

// ConcreteTypeName implements TypeNamer.
func (d PolymorphicData) ConcreteTypeName() string { return d.TypeName }

// TypeNamer is implemented by values that know their concrete type.
type TypeNamer interface {
	ConcreteTypeName() string
}

// ResolveTypeName returns the concrete type of a discriminator value.
func ResolveTypeName(v any) (string, bool) {
	switch t := v.(type) {
	case *PolymorphicData:
		if t == nil {
			return "", false
		}
		return t.TypeName, t.TypeName != ""
	case TypeNamer:
		name := t.ConcreteTypeName()
		return name, name != ""
	}
	return "", false
}

// PolymorphicValue unwraps a discriminator value to its payload.
func PolymorphicValue(v any) any {
	switch t := v.(type) {
	case PolymorphicData:
		return t.Data
	case *PolymorphicData:
		if t != nil {
			return t.Data
		}
	}
	return v
}

func appendPolymorphicPath(path, typeName string) string {
	return path + ">" + typeName
}
