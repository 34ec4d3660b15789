package memstore

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/modelkit/storage"
)

// dump is the serialized form of a store.
type dump struct {
	Tables []*storage.Table          `msgpack:"tables"`
	Rows   map[string][]storage.Row `msgpack:"rows"`
	Seq    map[string]int64         `msgpack:"seq"`
}

// Dump writes the committed state of the store to w in MessagePack format.
func (s *Store) Dump(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := dump{Rows: make(map[string][]storage.Row), Seq: make(map[string]int64)}
	for _, name := range sortedNames(s.tables) {
		t := s.tables[name]
		def := t.def.Clone()
		for _, c := range def.Columns {
			c.Default = portable(c.Default)
		}
		d.Tables = append(d.Tables, def)
		d.Seq[name] = t.seq
		for _, e := range entries(t) {
			row := make(storage.Row, len(e.rec.row))
			for k, v := range e.rec.row {
				row[k] = portable(v)
			}
			d.Rows[name] = append(d.Rows[name], row)
		}
	}
	if err := msgpack.NewEncoder(w).Encode(&d); err != nil {
		return fmt.Errorf("memstore: dump: %w", err)
	}
	return nil
}

// portable returns the dump encoding of a value. MessagePack has no UUID
// type and decodes a 16-byte array as a string, so UUIDs are written in
// their text form.
func portable(v any) any {
	if u, ok := v.(uuid.UUID); ok {
		return u.String()
	}
	return v
}

// Restore replaces the state of the store with a dump written by Dump.
// Open transactions fail to commit afterwards.
func (s *Store) Restore(r io.Reader) error {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	var d dump
	if err := dec.Decode(&d); err != nil {
		return fmt.Errorf("memstore: restore: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := make(map[string]*table, len(d.Tables))
	for _, def := range d.Tables {
		t := &table{def: def, rows: make(map[string]*record), seq: d.Seq[def.Name]}
		for _, c := range def.Columns {
			v, err := coerce(c, c.Default)
			if err != nil {
				return fmt.Errorf("memstore: restore %s: %w", def.Name, err)
			}
			c.Default = v
		}
		for _, row := range d.Rows[def.Name] {
			for _, c := range def.Columns {
				v, err := coerce(c, row[c.Name])
				if err != nil {
					return fmt.Errorf("memstore: restore %s: %w", def.Name, err)
				}
				row[c.Name] = v
			}
			s.order++
			key, err := keyOf(def, row, s.order)
			if err != nil {
				return fmt.Errorf("memstore: restore %s: %w", def.Name, err)
			}
			t.rows[key] = &record{row: row, version: s.nextVersion(), order: s.order}
		}
		tables[def.Name] = t
	}
	s.tables = tables
	s.schema++
	return nil
}
