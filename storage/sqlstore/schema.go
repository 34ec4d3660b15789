package sqlstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/dialect"
	"github.com/syssam/modelkit/dialect/sql/sqlgraph"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// atlasDriver opens the Atlas driver of the dialect on top of ex.
func atlasDriver(d string, ex schema.ExecQuerier) (migrate.Driver, error) {
	switch d {
	case dialect.SQLite:
		return sqlite.Open(ex)
	case dialect.Postgres:
		return postgres.Open(ex)
	case dialect.MySQL:
		return mysql.Open(ex)
	}
	return nil, fmt.Errorf("sqlstore: unsupported dialect %q", d)
}

// schemaName is the schema inspected by the store: the main database for
// SQLite and the connection's current schema for the others.
func schemaName(d string) string {
	if d == dialect.SQLite {
		return "main"
	}
	return ""
}

// Inspect implements storage.Migrator.
func (s *Store) Inspect(ctx context.Context) (*storage.Snapshot, error) {
	drv, err := atlasDriver(s.dialect, s.drv.DB())
	if err != nil {
		return nil, err
	}
	as, err := drv.InspectSchema(ctx, schemaName(s.dialect), nil)
	if err != nil {
		return nil, sqlgraph.Classify("inspect", err, "")
	}
	snap := &storage.Snapshot{Dialect: s.dialect}
	tables := make(map[string]*storage.Table, len(as.Tables))
	for _, at := range as.Tables {
		t, err := fromAtlas(s.dialect, at)
		if err != nil {
			return nil, err
		}
		snap.Tables = append(snap.Tables, t)
		tables[t.Name] = t.Clone()
	}
	slices.SortFunc(snap.Tables, func(a, b *storage.Table) int { return strings.Compare(a.Name, b.Name) })
	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
	return snap, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.tables = nil
	s.mu.Unlock()
}

// Apply implements storage.Migrator. The changes run in one transaction on
// a dedicated connection. On SQLite, foreign key enforcement is suspended
// while the tables are rebuilt and checked once before the commit.
func (s *Store) Apply(ctx context.Context, changes []*storage.Change) (rerr error) {
	if len(changes) == 0 {
		return nil
	}
	defer s.invalidate()
	c, err := s.drv.DB().Conn(ctx)
	if err != nil {
		return sqlgraph.Classify("apply", err, "")
	}
	defer c.Close()
	if s.dialect == dialect.SQLite {
		if _, err := c.ExecContext(ctx, "PRAGMA foreign_keys = off"); err != nil {
			return sqlgraph.Classify("apply", err, "")
		}
		defer func() {
			if _, err := c.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = on"); err != nil && rerr == nil {
				rerr = sqlgraph.Classify("apply", err, "")
			}
		}()
	}
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return sqlgraph.Classify("apply", err, "")
	}
	if err := s.apply(ctx, tx, changes); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: %w", err, &modelkit.RollbackError{Err: rerr})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return sqlgraph.Classify("apply", err, "")
	}
	s.log.InfoContext(ctx, "schema changes applied", "dialect", s.dialect, "changes", len(changes))
	return nil
}

func (s *Store) apply(ctx context.Context, tx *stdsql.Tx, changes []*storage.Change) error {
	drv, err := atlasDriver(s.dialect, tx)
	if err != nil {
		return err
	}
	cur, err := drv.InspectSchema(ctx, schemaName(s.dialect), nil)
	if err != nil {
		return sqlgraph.Classify("inspect", err, "")
	}
	m := &migration{dialect: s.dialect, drv: drv, tx: tx, cur: cur}
	for _, c := range changes {
		if err := m.change(ctx, c); err != nil {
			return err
		}
	}
	if s.dialect == dialect.SQLite {
		return m.checkForeignKeys(ctx)
	}
	return nil
}

// migration tracks the Atlas shape of the schema while changes are applied
// one at a time. SQLite rebuilds a table for most alterations, and the
// rebuild reads the whole target table from the change.
type migration struct {
	dialect string
	drv     migrate.Driver
	tx      *stdsql.Tx
	cur     *schema.Schema
}

func (m *migration) change(ctx context.Context, c *storage.Change) error {
	name := c.Table.Name
	if c.Kind == storage.CreateTable {
		at, err := m.create(c.Table)
		if err != nil {
			return err
		}
		return m.exec(ctx, c, &schema.AddTable{T: at})
	}
	at, ok := m.cur.Table(name)
	if !ok {
		return fmt.Errorf("sqlstore: %s: unknown table %q", c, name)
	}
	switch c.Kind {
	case storage.DropTable:
		m.cur.Tables = slices.DeleteFunc(m.cur.Tables, func(t *schema.Table) bool { return t == at })
		return m.exec(ctx, c, &schema.DropTable{T: at})
	case storage.AddColumn:
		return m.addColumn(ctx, c, at)
	case storage.DropColumn:
		col, ok := at.Column(c.Column.Name)
		if !ok {
			return fmt.Errorf("sqlstore: %s: unknown column", c)
		}
		at.Columns = slices.DeleteFunc(at.Columns, func(x *schema.Column) bool { return x == col })
		return m.modify(ctx, c, at, &schema.DropColumn{C: col})
	case storage.AlterColumn:
		from, ok := at.Column(c.Column.Name)
		if !ok {
			return fmt.Errorf("sqlstore: %s: unknown column", c)
		}
		to := m.column(c.Column)
		m.replace(at, from, to)
		return m.modify(ctx, c, at, &schema.ModifyColumn{From: from, To: to, Change: changeKind(from, to)})
	case storage.AddForeignKey:
		fk, err := m.foreignKey(at, c.ForeignKey)
		if err != nil {
			return err
		}
		at.ForeignKeys = append(at.ForeignKeys, fk)
		return m.modify(ctx, c, at, &schema.AddForeignKey{F: fk})
	case storage.DropForeignKey:
		i := slices.IndexFunc(at.ForeignKeys, func(fk *schema.ForeignKey) bool { return fkName(at, fk) == c.ForeignKey.Name })
		if i < 0 {
			return fmt.Errorf("sqlstore: %s: unknown foreign key", c)
		}
		fk := at.ForeignKeys[i]
		at.ForeignKeys = slices.Delete(at.ForeignKeys, i, i+1)
		return m.modify(ctx, c, at, &schema.DropForeignKey{F: fk})
	case storage.AddIndex:
		idx, err := m.index(at, c.Index)
		if err != nil {
			return err
		}
		at.Indexes = append(at.Indexes, idx)
		return m.modify(ctx, c, at, &schema.AddIndex{I: idx})
	case storage.DropIndex:
		idx, ok := at.Index(c.Index.Name)
		if !ok {
			return fmt.Errorf("sqlstore: %s: unknown index", c)
		}
		at.Indexes = slices.DeleteFunc(at.Indexes, func(x *schema.Index) bool { return x == idx })
		return m.modify(ctx, c, at, &schema.DropIndex{I: idx})
	}
	return fmt.Errorf("sqlstore: unsupported change %s", c.Kind)
}

// addColumn adds a non-nullable column without a default in three steps:
// the column is added as nullable, existing rows are backfilled and the
// column is made non-nullable. The last step fails on a non-empty table
// without a backfill value.
func (m *migration) addColumn(ctx context.Context, c *storage.Change, at *schema.Table) error {
	col := m.column(c.Column)
	if c.Column.Nullable || defaultExpr(c.Column) != nil {
		at.AddColumns(col)
		return m.modify(ctx, c, at, &schema.AddColumn{C: col})
	}
	nullable := m.column(&storage.Column{Name: c.Column.Name, Type: c.Column.Type, Nullable: true})
	at.AddColumns(nullable)
	if err := m.modify(ctx, c, at, &schema.AddColumn{C: nullable}); err != nil {
		return err
	}
	v := c.Backfill
	if v == nil {
		v = c.Column.Default
	}
	if v != nil {
		ev, err := encode(c.Column, v)
		if err != nil {
			return err
		}
		query, args := sqlgraph.Update(m.dialect, at.Name, storage.Row{col.Name: ev}, storage.Where(storage.IsNull(col.Name)))
		if _, err := m.tx.ExecContext(ctx, query, args...); err != nil {
			return sqlgraph.Classify(c.String(), err, at.Name)
		}
	}
	m.replace(at, nullable, col)
	return m.modify(ctx, c, at, &schema.ModifyColumn{From: nullable, To: col, Change: schema.ChangeNull})
}

func (m *migration) modify(ctx context.Context, c *storage.Change, at *schema.Table, change schema.Change) error {
	return m.exec(ctx, c, &schema.ModifyTable{T: at, Changes: []schema.Change{change}})
}

func (m *migration) exec(ctx context.Context, c *storage.Change, change schema.Change) error {
	if err := m.drv.ApplyChanges(ctx, []schema.Change{change}); err != nil {
		return sqlgraph.Classify(c.String(), err, c.Table.Name)
	}
	return nil
}

func (m *migration) replace(at *schema.Table, from, to *schema.Column) {
	for i, c := range at.Columns {
		if c == from {
			at.Columns[i] = to
		}
	}
	to.Indexes, to.ForeignKeys = from.Indexes, from.ForeignKeys
	for _, idx := range append(slices.Clone(at.Indexes), at.PrimaryKey) {
		if idx == nil {
			continue
		}
		for _, p := range idx.Parts {
			if p.C == from {
				p.C = to
			}
		}
	}
	for _, fk := range at.ForeignKeys {
		for i, c := range fk.Columns {
			if c == from {
				fk.Columns[i] = to
			}
		}
	}
}

// checkForeignKeys reports the rows left dangling by the rebuilt tables.
func (m *migration) checkForeignKeys(ctx context.Context) error {
	rows, err := m.tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return sqlgraph.Classify("foreign key check", err, "")
	}
	defer rows.Close()
	if rows.Next() {
		var (
			table, parent string
			rowid         stdsql.NullInt64
			fkid          int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("sqlstore: foreign key check: %w", err)
		}
		return modelkit.NewConstraintError(fmt.Sprintf("FOREIGN KEY constraint failed: %s references a missing %s row", table, parent), nil)
	}
	return rows.Err()
}

// create builds the Atlas table of a new table and adds it to the schema.
// Foreign keys are created inline, so they must reference existing tables
// or the table itself.
func (m *migration) create(t *storage.Table) (*schema.Table, error) {
	at := schema.NewTable(t.Name).SetSchema(m.cur)
	for _, c := range t.Columns {
		at.AddColumns(m.column(c))
	}
	if len(t.PrimaryKey) > 0 {
		pk := &schema.Index{Unique: true, Table: at}
		for i, name := range t.PrimaryKey {
			c, ok := at.Column(name)
			if !ok {
				return nil, fmt.Errorf("sqlstore: create table %s: unknown primary key column %q", t.Name, name)
			}
			pk.Parts = append(pk.Parts, &schema.IndexPart{SeqNo: i, C: c})
		}
		at.PrimaryKey = pk
	}
	m.cur.Tables = append(m.cur.Tables, at)
	for _, fk := range t.ForeignKeys {
		afk, err := m.foreignKey(at, fk)
		if err != nil {
			m.cur.Tables = m.cur.Tables[:len(m.cur.Tables)-1]
			return nil, err
		}
		at.ForeignKeys = append(at.ForeignKeys, afk)
	}
	for _, idx := range t.Indexes {
		aidx, err := m.index(at, idx)
		if err != nil {
			m.cur.Tables = m.cur.Tables[:len(m.cur.Tables)-1]
			return nil, err
		}
		at.Indexes = append(at.Indexes, aidx)
	}
	return at, nil
}

func (m *migration) foreignKey(at *schema.Table, fk *storage.ForeignKey) (*schema.ForeignKey, error) {
	col, ok := at.Column(fk.Column)
	if !ok {
		return nil, fmt.Errorf("sqlstore: foreign key %s: unknown column %q", fk.Name, fk.Column)
	}
	ref, ok := m.cur.Table(fk.RefTable)
	if !ok {
		return nil, fmt.Errorf("sqlstore: foreign key %s: unknown table %q", fk.Name, fk.RefTable)
	}
	refCol, ok := ref.Column(fk.RefColumn)
	if !ok {
		return nil, fmt.Errorf("sqlstore: foreign key %s: unknown column %s.%s", fk.Name, fk.RefTable, fk.RefColumn)
	}
	onDelete := schema.ReferenceOption(fk.OnDelete)
	if onDelete == "" {
		onDelete = schema.NoAction
	}
	return &schema.ForeignKey{
		Symbol:     fk.Name,
		Table:      at,
		Columns:    []*schema.Column{col},
		RefTable:   ref,
		RefColumns: []*schema.Column{refCol},
		OnUpdate:   schema.NoAction,
		OnDelete:   onDelete,
	}, nil
}

func (m *migration) index(at *schema.Table, idx *storage.Index) (*schema.Index, error) {
	ai := &schema.Index{Name: idx.Name, Unique: idx.Unique, Table: at}
	for i, name := range idx.Columns {
		c, ok := at.Column(name)
		if !ok {
			return nil, fmt.Errorf("sqlstore: index %s: unknown column %q", idx.Name, name)
		}
		ai.Parts = append(ai.Parts, &schema.IndexPart{SeqNo: i, C: c})
	}
	return ai, nil
}

// column returns the Atlas column of a storage column.
func (m *migration) column(c *storage.Column) *schema.Column {
	ac := &schema.Column{
		Name: c.Name,
		Type: &schema.ColumnType{
			Type: atlasType(m.dialect, c.Type),
			Raw:  dialect.ColumnType(m.dialect, c.Type),
			Null: c.Nullable,
		},
	}
	if x := defaultExpr(c); x != nil {
		ac.Default = x
	}
	if c.Increment {
		switch m.dialect {
		case dialect.Postgres:
			ac.Attrs = append(ac.Attrs, &postgres.Identity{Generation: "BY DEFAULT"})
		case dialect.MySQL:
			ac.Attrs = append(ac.Attrs, &mysql.AutoIncrement{})
		case dialect.SQLite:
			ac.Attrs = append(ac.Attrs, &sqlite.AutoIncrement{})
		}
	}
	return ac
}

// defaultExpr returns the DDL default of a column. Only scalar defaults
// are rendered.
func defaultExpr(c *storage.Column) schema.Expr {
	switch c.Type {
	case field.TypeBool, field.TypeInt, field.TypeFloat, field.TypeString, field.TypeEnum:
	default:
		return nil
	}
	v, ok := literal(c.Default)
	if !ok {
		return nil
	}
	return &schema.Literal{V: v}
}

func changeKind(from, to *schema.Column) schema.ChangeKind {
	var k schema.ChangeKind
	if from.Type.Raw != to.Type.Raw {
		k |= schema.ChangeType
	}
	if from.Type.Null != to.Type.Null {
		k |= schema.ChangeNull
	}
	if exprString(from.Default) != exprString(to.Default) {
		k |= schema.ChangeDefault
	}
	return k
}

func exprString(x schema.Expr) string {
	switch x := x.(type) {
	case *schema.Literal:
		return x.V
	case *schema.RawExpr:
		return x.X
	}
	return ""
}

// atlasType returns the Atlas type of a field type in the dialect.
func atlasType(d string, t field.Type) schema.Type {
	raw := dialect.ColumnType(d, t)
	name, size := splitSize(raw)
	switch t {
	case field.TypeBool:
		if d == dialect.MySQL {
			return &schema.BoolType{T: "bool"}
		}
		return &schema.BoolType{T: raw}
	case field.TypeInt:
		return &schema.IntegerType{T: raw}
	case field.TypeFloat:
		return &schema.FloatType{T: raw}
	case field.TypeString, field.TypeEnum:
		return &schema.StringType{T: name, Size: size}
	case field.TypeBytes:
		return &schema.BinaryType{T: raw}
	case field.TypeTime:
		return &schema.TimeType{T: raw}
	case field.TypeUUID:
		if d == dialect.MySQL {
			return &schema.StringType{T: name, Size: size}
		}
		return &schema.UUIDType{T: raw}
	case field.TypeJSON:
		return &schema.JSONType{T: raw}
	}
	return &schema.UnsupportedType{T: raw}
}

// splitSize splits a sized type such as varchar(255).
func splitSize(raw string) (string, int) {
	i := strings.IndexByte(raw, '(')
	if i < 0 || !strings.HasSuffix(raw, ")") {
		return raw, 0
	}
	n, err := strconv.Atoi(raw[i+1 : len(raw)-1])
	if err != nil {
		return raw, 0
	}
	return raw[:i], n
}

// fkName returns the name of a foreign key. SQLite constraints may be
// unnamed; they are named after the table and column.
func fkName(at *schema.Table, fk *schema.ForeignKey) string {
	if fk.Symbol != "" {
		return fk.Symbol
	}
	return ForeignKeyName(at.Name, fk.Columns[0].Name)
}

// ForeignKeyName is the conventional name of a single-column foreign key.
func ForeignKeyName(table, column string) string {
	return table + "_" + column + "_fkey"
}

// fromAtlas converts an inspected table.
func fromAtlas(d string, at *schema.Table) (*storage.Table, error) {
	t := &storage.Table{Name: at.Name}
	tableInc := hasAttr[*sqlite.AutoIncrement](at.Attrs)
	for _, ac := range at.Columns {
		c := &storage.Column{Name: ac.Name, Raw: rawType(ac)}
		if ac.Type != nil {
			c.Nullable = ac.Type.Null
		}
		c.Type = dialect.FieldType(d, c.Raw)
		if c.Type == field.TypeInvalid {
			return nil, fmt.Errorf("sqlstore: table %s: column %s has unsupported type %q", at.Name, ac.Name, c.Raw)
		}
		switch x := ac.Default.(type) {
		case *schema.Literal:
			c.Default, _ = parseLiteral(c.Type, x.V)
		case *schema.RawExpr:
			if strings.HasPrefix(x.X, "nextval(") {
				c.Increment = true
			} else {
				c.Default, _ = parseLiteral(c.Type, x.X)
			}
		}
		switch {
		case hasAttr[*postgres.Identity](ac.Attrs), hasAttr[*mysql.AutoIncrement](ac.Attrs), hasAttr[*sqlite.AutoIncrement](ac.Attrs):
			c.Increment = true
		case tableInc && c.Type == field.TypeInt && isPrimaryKey(at, ac):
			c.Increment = true
		}
		t.Columns = append(t.Columns, c)
	}
	if pk := at.PrimaryKey; pk != nil {
		for _, p := range pk.Parts {
			if p.C != nil {
				t.PrimaryKey = append(t.PrimaryKey, p.C.Name)
			}
		}
	}
	fks := make(map[string]bool)
	for _, fk := range at.ForeignKeys {
		if len(fk.Columns) != 1 || len(fk.RefColumns) != 1 || fk.RefTable == nil {
			continue
		}
		action := storage.Action(fk.OnDelete)
		if action == "" {
			action = storage.NoAction
		}
		name := fkName(at, fk)
		fks[name] = true
		t.ForeignKeys = append(t.ForeignKeys, &storage.ForeignKey{
			Name:      name,
			Column:    fk.Columns[0].Name,
			RefTable:  fk.RefTable.Name,
			RefColumn: fk.RefColumns[0].Name,
			OnDelete:  action,
		})
	}
	for _, ai := range at.Indexes {
		if strings.HasPrefix(ai.Name, "sqlite_autoindex") {
			continue
		}
		// MySQL backs every foreign key with an index of the same name.
		if d == dialect.MySQL && !ai.Unique && fks[ai.Name] {
			continue
		}
		idx := &storage.Index{Name: ai.Name, Unique: ai.Unique}
		for _, p := range ai.Parts {
			if p.C == nil {
				idx = nil
				break
			}
			idx.Columns = append(idx.Columns, p.C.Name)
		}
		if idx != nil {
			t.Indexes = append(t.Indexes, idx)
		}
	}
	slices.SortFunc(t.Indexes, func(a, b *storage.Index) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(t.ForeignKeys, func(a, b *storage.ForeignKey) int { return strings.Compare(a.Name, b.Name) })
	return t, nil
}

func rawType(c *schema.Column) string {
	if c.Type == nil {
		return ""
	}
	raw := strings.ToLower(c.Type.Raw)
	if raw == "" && c.Type.Type != nil {
		if u, ok := c.Type.Type.(*schema.UnsupportedType); ok {
			raw = strings.ToLower(u.T)
		}
	}
	return raw
}

func isPrimaryKey(at *schema.Table, c *schema.Column) bool {
	return at.PrimaryKey != nil && len(at.PrimaryKey.Parts) == 1 && at.PrimaryKey.Parts[0].C == c
}

func hasAttr[T schema.Attr](attrs []schema.Attr) bool {
	for _, a := range attrs {
		if _, ok := a.(T); ok {
			return true
		}
	}
	return false
}
