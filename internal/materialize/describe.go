package materialize

import (
	"fmt"
	"reflect"
	"strings"
)

// TagName is the struct tag read by Describe.
const TagName = "fetch"

// Describe returns a Builder deriving the member info of *T from struct tags:
//
//	type Film struct {
//		ID     int64     `fetch:"id"`
//		Sequel *Film     `fetch:"rel=Film"`
//		Cast   []*Person `fetch:"rel=Person"`
//	}
//
// Entities are handled as *T. Relation fields must be exported pointers or
// interfaces, or slices of them. Any other shape fails the build.
func Describe[T any](typ string) Builder {
	return func() (*TypeInfo, error) {
		rt := reflect.TypeOf((*T)(nil)).Elem()
		if rt.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %s: %s is not a struct", ErrUnsupportedShape, typ, rt)
		}
		info := &TypeInfo{Name: typ}
		for i := 0; i < rt.NumField(); i++ {
			sf := rt.Field(i)
			tag, ok := sf.Tag.Lookup(TagName)
			if !ok || tag == "-" {
				continue
			}
			if !sf.IsExported() {
				return nil, fmt.Errorf("%w: %s.%s is unexported", ErrUnsupportedShape, typ, sf.Name)
			}
			switch {
			case tag == "id":
				if info.ID != nil {
					return nil, fmt.Errorf("%w: %s has two identifier fields", ErrUnsupportedShape, typ)
				}
				if !sf.Type.Comparable() || sf.Type.Kind() == reflect.Interface {
					return nil, fmt.Errorf("%w: %s.%s identifier of type %s", ErrUnsupportedShape, typ, sf.Name, sf.Type)
				}
				info.ID = reflectID[T](sf.Index)
			case strings.HasPrefix(tag, "rel="):
				target := strings.TrimPrefix(tag, "rel=")
				m, err := reflectMember[T](sf, target)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", typ, sf.Name, err)
				}
				info.Members = append(info.Members, m)
			default:
				return nil, fmt.Errorf("%w: %s.%s: unknown tag %q", ErrUnsupportedShape, typ, sf.Name, tag)
			}
		}
		if info.ID == nil {
			return nil, fmt.Errorf("%w: %s has no identifier field", ErrUnsupportedShape, typ)
		}
		return info, nil
	}
}

func reflectID[T any](index []int) func(any) (any, error) {
	return func(entity any) (any, error) {
		rv, err := structOf[T](entity)
		if err != nil {
			return nil, err
		}
		return rv.FieldByIndex(index).Interface(), nil
	}
}

func reflectMember[T any](sf reflect.StructField, target string) (Member, error) {
	if target == "" {
		return Member{}, fmt.Errorf("%w: empty relation target", ErrUnsupportedShape)
	}
	ft := sf.Type
	m := Member{Name: lowerFirst(sf.Name), Target: target}
	switch ft.Kind() {
	case reflect.Pointer, reflect.Interface:
	case reflect.Slice:
		if k := ft.Elem().Kind(); k != reflect.Pointer && k != reflect.Interface {
			return Member{}, fmt.Errorf("%w: collection of %s", ErrUnsupportedShape, ft.Elem())
		}
		m.Collection = true
	default:
		// maps, arrays and value structs have no single target identity
		return Member{}, fmt.Errorf("%w: relation of kind %s", ErrUnsupportedShape, ft.Kind())
	}

	index := sf.Index
	m.Get = func(owner any) (any, error) {
		rv, err := structOf[T](owner)
		if err != nil {
			return nil, err
		}
		fv := rv.FieldByIndex(index)
		if fv.IsNil() {
			return nil, nil
		}
		if !m.Collection {
			return fv.Interface(), nil
		}
		out := make([]any, fv.Len())
		for i := range out {
			if e := fv.Index(i); !e.IsNil() {
				out[i] = e.Interface()
			}
		}
		return out, nil
	}
	m.Set = func(owner, value any) error {
		rv, err := structOf[T](owner)
		if err != nil {
			return err
		}
		fv := rv.FieldByIndex(index)
		if value == nil {
			fv.Set(reflect.Zero(ft))
			return nil
		}
		if !m.Collection {
			return assign(fv, value, m.Name)
		}
		elems, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%w: %s: collection value %T", ErrAccessor, m.Name, value)
		}
		s := reflect.MakeSlice(ft, len(elems), len(elems))
		for i, e := range elems {
			if e == nil {
				continue
			}
			if err := assign(s.Index(i), e, m.Name); err != nil {
				return err
			}
		}
		fv.Set(s)
		return nil
	}
	return m, nil
}

func structOf[T any](entity any) (reflect.Value, error) {
	p, ok := entity.(*T)
	if !ok || p == nil {
		return reflect.Value{}, fmt.Errorf("%w: entity %T, want %T", ErrAccessor, entity, (*T)(nil))
	}
	return reflect.ValueOf(p).Elem(), nil
}

func assign(dst reflect.Value, value any, member string) error {
	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("%w: %s: cannot store %T as %s", ErrAccessor, member, value, dst.Type())
	}
	dst.Set(v)
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
