package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Snapshot is an ordered mapping of field name to JSON-encoded value. Field
// order is the order fields were set, which for reflected snapshots is the
// struct declaration order. Order is preserved through JSON round trips.
type Snapshot struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]json.RawMessage)}
}

// Set marshals value and stores it under name. Setting an existing name
// overwrites the value but keeps its original position.
func (s *Snapshot) Set(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field %q: %w", name, err)
	}
	s.SetRaw(name, raw)
	return nil
}

// SetRaw stores an already-encoded value under name.
func (s *Snapshot) SetRaw(name string, raw json.RawMessage) {
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	if _, ok := s.values[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.values[name] = raw
}

// Get returns the encoded value for name.
func (s *Snapshot) Get(name string) (json.RawMessage, bool) {
	if s == nil {
		return nil, false
	}
	raw, ok := s.values[name]
	return raw, ok
}

// Len returns the number of fields.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Fields returns the field names in order.
func (s *Snapshot) Fields() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Equal reports whether two snapshots contain the same fields with the same
// encoded values. Field order does not affect equality.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, name := range s.Fields() {
		a, _ := s.Get(name)
		b, ok := other.Get(name)
		if !ok || !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	if s == nil {
		return out
	}
	for _, name := range s.keys {
		raw := make(json.RawMessage, len(s.values[name]))
		copy(raw, s.values[name])
		out.SetRaw(name, raw)
	}
	return out
}

// MarshalJSON encodes the snapshot as a JSON object with fields in order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil || len(s.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(s.values[name])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving the document's key order.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("snapshot: expected JSON object, got %v", tok)
	}
	s.keys = nil
	s.values = make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("snapshot: expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		s.SetRaw(name, raw)
	}
	_, err = dec.Token() // closing brace
	return err
}

// SnapshotOf captures an entity's current state. Types implementing
// Snapshotter control their own serialization; everything else is reflected
// over exported struct fields, excluding relationship fields (fields whose
// type, or element type, is itself an Entity) since those require separate
// fetches and are handled by the relationship change path.
func SnapshotOf(ctx context.Context, e Entity) (*Snapshot, error) {
	if snapshotter, ok := e.(Snapshotter); ok {
		return snapshotter.Snapshot(ctx)
	}
	return reflectSnapshot(e)
}

var entityInterface = reflect.TypeOf((*Entity)(nil)).Elem()

func reflectSnapshot(e Entity) (*Snapshot, error) {
	v := reflect.ValueOf(e)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("snapshot: nil %s", e.EntityType())
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("snapshot: %s is not a struct and does not implement Snapshotter", e.EntityType())
	}

	snap := NewSnapshot()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || isRelationship(f.Type) {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		if err := snap.Set(name, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// isRelationship reports whether a field type refers to other entities.
func isRelationship(t reflect.Type) bool {
	if implementsEntity(t) {
		return true
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return implementsEntity(t.Elem())
	}
	return false
}

func implementsEntity(t reflect.Type) bool {
	if t.Implements(entityInterface) {
		return true
	}
	if t.Kind() != reflect.Pointer {
		return reflect.PointerTo(t).Implements(entityInterface)
	}
	return false
}

func fieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		if i := strings.Index(tag, ","); i >= 0 {
			tag = tag[:i]
		}
		if tag != "" {
			return tag, false
		}
	}
	return strings.ToLower(f.Name), false
}
