package tileset

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Every object of the model keeps the properties it does not declare in an
// Unknown map, so rewriting a descriptor never loses data.

var declaredKeys sync.Map // reflect.Type -> map[string]struct{}

func keysOf(t reflect.Type) map[string]struct{} {
	if k, ok := declaredKeys.Load(t); ok {
		return k.(map[string]struct{})
	}
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	declaredKeys.Store(t, keys)
	return keys
}

// decodeObject decodes data into v, a pointer to a struct without JSON
// methods, and returns the properties v does not declare
func decodeObject(data []byte, v any) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	declared := keysOf(reflect.TypeOf(v).Elem())
	for k := range all {
		if _, ok := declared[k]; ok {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// encodeObject encodes v and appends the unknown properties after the
// declared ones. Declared properties win over unknown ones of the same name.
func encodeObject(v any, unknown map[string]json.RawMessage) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil || len(unknown) == 0 {
		return out, err
	}
	declared := keysOf(reflect.TypeOf(v).Elem())

	names := make([]string, 0, len(unknown))
	for k := range unknown {
		if _, ok := declared[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(out[:len(out)-1])
	empty := len(bytes.TrimSpace(out)) == 2
	for _, k := range names {
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(unknown[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type (
	tilesetObject        Tileset
	assetObject          Asset
	tileObject           Tile
	contentObject        Content
	boundingVolumeObject BoundingVolume
	implicitTilingObject ImplicitTiling
	subtreesObject       Subtrees
)

func (ts *Tileset) UnmarshalJSON(data []byte) error {
	var err error
	ts.Unknown, err = decodeObject(data, (*tilesetObject)(ts))
	return err
}

func (ts Tileset) MarshalJSON() ([]byte, error) {
	return encodeObject((*tilesetObject)(&ts), ts.Unknown)
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var err error
	a.Unknown, err = decodeObject(data, (*assetObject)(a))
	return err
}

func (a Asset) MarshalJSON() ([]byte, error) {
	return encodeObject((*assetObject)(&a), a.Unknown)
}

func (t *Tile) UnmarshalJSON(data []byte) error {
	var err error
	t.Unknown, err = decodeObject(data, (*tileObject)(t))
	return err
}

func (t Tile) MarshalJSON() ([]byte, error) {
	return encodeObject((*tileObject)(&t), t.Unknown)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var err error
	c.Unknown, err = decodeObject(data, (*contentObject)(c))
	return err
}

func (c Content) MarshalJSON() ([]byte, error) {
	return encodeObject((*contentObject)(&c), c.Unknown)
}

func (bv *BoundingVolume) UnmarshalJSON(data []byte) error {
	var err error
	bv.Unknown, err = decodeObject(data, (*boundingVolumeObject)(bv))
	return err
}

func (bv BoundingVolume) MarshalJSON() ([]byte, error) {
	return encodeObject((*boundingVolumeObject)(&bv), bv.Unknown)
}

func (it *ImplicitTiling) UnmarshalJSON(data []byte) error {
	var err error
	it.Unknown, err = decodeObject(data, (*implicitTilingObject)(it))
	return err
}

func (it ImplicitTiling) MarshalJSON() ([]byte, error) {
	return encodeObject((*implicitTilingObject)(&it), it.Unknown)
}

func (s *Subtrees) UnmarshalJSON(data []byte) error {
	var err error
	s.Unknown, err = decodeObject(data, (*subtreesObject)(s))
	return err
}

func (s Subtrees) MarshalJSON() ([]byte, error) {
	return encodeObject((*subtreesObject)(&s), s.Unknown)
}
