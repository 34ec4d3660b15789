package sqlstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// encode converts a value to its driver representation for the column.
func encode(c *storage.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	nv, err := (&field.Descriptor{Name: c.Name, Type: c.Type, Nillable: true}).Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: column %s: %w", c.Name, err)
	}
	switch x := nv.(type) {
	case uuid.UUID:
		return x.String(), nil
	case time.Time:
		return x.UTC(), nil
	}
	if c.Type == field.TypeJSON {
		b, err := json.Marshal(nv)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: column %s: %w", c.Name, err)
		}
		return string(b), nil
	}
	return nv, nil
}

// decode converts a scanned value to the canonical representation of the
// column type.
func decode(c *storage.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && c.Type != field.TypeBytes {
		v = string(b)
	}
	if s, ok := v.(string); ok && c.Type == field.TypeJSON {
		var doc any
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return doc, nil
	}
	nv, err := (&field.Descriptor{Name: c.Name, Type: c.Type, Nillable: true}).Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", c.Name, err)
	}
	return nv, nil
}

func encodeRow(d string, t *storage.Table, row storage.Row) (storage.Row, error) {
	out := make(storage.Row, len(row))
	for k, v := range row {
		c, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("sqlstore: unknown column %s.%s", t.Name, k)
		}
		ev, err := encode(c, v)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func encodeFilter(d string, t *storage.Table, f storage.Filter) (storage.Filter, error) {
	out := make(storage.Filter, len(f))
	for i, p := range f {
		c, ok := t.Column(p.Column)
		if !ok {
			return nil, fmt.Errorf("sqlstore: unknown column %s.%s", t.Name, p.Column)
		}
		ep := storage.Predicate{Column: p.Column, Op: p.Op, Values: make([]any, len(p.Values))}
		for j, v := range p.Values {
			ev, err := encode(c, v)
			if err != nil {
				return nil, err
			}
			ep.Values[j] = ev
		}
		out[i] = ep
	}
	return out, nil
}

func decodeRow(t *storage.Table, m map[string]any) (storage.Row, error) {
	row := make(storage.Row, len(m))
	for k, v := range m {
		c, ok := t.Column(k)
		if !ok {
			row[k] = v
			continue
		}
		dv, err := decode(c, v)
		if err != nil {
			return nil, err
		}
		row[k] = dv
	}
	return row, nil
}

// literal renders a column default as a SQL literal. Only scalar defaults
// are rendered; the engine computes the others.
func literal(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	}
	return "", false
}

// parseLiteral parses a default reported by introspection, such as
// 'member'::character varying, ('x') or 1, into a value of the field type.
func parseLiteral(t field.Type, s string) (any, bool) {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if i := strings.LastIndex(s, "::"); i > 0 && !strings.HasSuffix(s, "'") {
		s = s[:i]
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	switch t {
	case field.TypeString, field.TypeEnum:
		return s, true
	case field.TypeBool:
		switch strings.ToLower(s) {
		case "true", "t", "1":
			return true, true
		case "false", "f", "0":
			return false, true
		}
	case field.TypeInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
	case field.TypeFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return nil, false
}
