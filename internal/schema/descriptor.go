package schema

import (
	"fmt"
	"regexp"
	"strings"

	"labkeeper.org/internal/store"
)

// Column is one non-key column of a table definition.
type Column struct {
	Name    string
	Type    store.ColumnType
	NotNull bool
	Unique  bool
}

// ForeignKey references the key of another table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

// Table is the full definition used when a table is created.
type Table struct {
	Name        string
	Key         string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// ColumnSpec is one expected (table, column, type) tuple.
type ColumnSpec struct {
	Table  string
	Column string
	Type   store.ColumnType
}

func (c ColumnSpec) String() string {
	return fmt.Sprintf("%s.%s %s", c.Table, c.Column, c.Type)
}

// Descriptor is the schema the application expects, in creation order.
type Descriptor struct {
	Tables []Table
}

// Expected lists every non-key column of every table. Columns missing from
// an older deployment are backfilled as nullable columns of this type.
func (d Descriptor) Expected() []ColumnSpec {
	var out []ColumnSpec
	for _, t := range d.Tables {
		for _, c := range t.Columns {
			out = append(out, ColumnSpec{Table: t.Name, Column: c.Name, Type: c.Type})
		}
	}
	return out
}

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks identifiers and foreign key targets.
func (d Descriptor) Validate() error {
	seen := make(map[string]string, len(d.Tables))
	for _, t := range d.Tables {
		if !identifier.MatchString(t.Name) || !identifier.MatchString(t.Key) {
			return fmt.Errorf("invalid table %q", t.Name)
		}
		for _, c := range t.Columns {
			if !identifier.MatchString(c.Name) {
				return fmt.Errorf("invalid column %s.%q", t.Name, c.Name)
			}
		}
		for _, fk := range t.ForeignKeys {
			key, ok := seen[fk.RefTable]
			if !ok || key != fk.RefColumn {
				return fmt.Errorf("%s.%s references unknown %s.%s", t.Name, fk.Column, fk.RefTable, fk.RefColumn)
			}
		}
		seen[t.Name] = t.Key
	}
	return nil
}

// createStatement renders create table if not exists for t.
func createStatement(d store.Dialect, t Table) string {
	defs := []string{d.Quote(t.Key) + " " + d.IdentityColumn()}
	for _, c := range t.Columns {
		def := d.Quote(c.Name) + " " + d.TypeName(c.Type)
		if c.NotNull {
			def += " not null"
		}
		if c.Unique {
			def += " unique"
		}
		defs = append(defs, def)
	}
	for _, fk := range t.ForeignKeys {
		def := fmt.Sprintf("foreign key (%s) references %s(%s)", d.Quote(fk.Column), d.Quote(fk.RefTable), d.Quote(fk.RefColumn))
		if fk.OnDelete != "" {
			def += " on delete " + fk.OnDelete
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("create table if not exists %s (\n\t%s\n)", d.Quote(t.Name), strings.Join(defs, ",\n\t"))
}

func text(name string) Column      { return Column{Name: name, Type: store.Text} }
func integer(name string) Column   { return Column{Name: name, Type: store.Integer} }
func timestamp(name string) Column { return Column{Name: name, Type: store.Timestamp} }

func required(c Column) Column {
	c.NotNull = true
	return c
}

// Lab is the record-keeping schema.
var Lab = Descriptor{Tables: []Table{
	{
		Name: "accounts",
		Key:  "account_id",
		Columns: []Column{
			required(text("full_name")),
			{Name: "username", Type: store.Text, NotNull: true, Unique: true},
			text("password_hash"),
			text("password"),
			text("email"),
			text("contact_number"),
			text("sex"),
			required(text("role")),
			text("profile_picture"),
			timestamp("created_at"),
			timestamp("last_login"),
		},
	},
	{
		Name: "patients",
		Key:  "patient_id",
		Columns: []Column{
			required(text("name")),
			text("sex"),
			text("date_of_birth"),
			text("contact_number"),
			text("email"),
			text("address"),
			text("blood_type"),
			text("allergies"),
			text("existing_conditions"),
			text("emergency_contact"),
			text("date_registered"),
			text("registered_by"),
			text("profile_picture"),
		},
	},
	{
		Name: "tests",
		Key:  "test_id",
		Columns: []Column{
			required(integer("patient_id")),
			text("test_name"),
			text("category"),
			text("sample_type"),
			text("date_conducted"),
			text("technician"),
			text("status"),
			text("remarks"),
			text("verification_status"),
			text("priority_level"),
			text("date_verified"),
		},
		ForeignKeys: []ForeignKey{{Column: "patient_id", RefTable: "patients", RefColumn: "patient_id", OnDelete: "cascade"}},
	},
	{
		Name: "parameters",
		Key:  "parameter_id",
		Columns: []Column{
			required(integer("test_id")),
			text("parameter_name"),
			text("result_value"),
			text("normal_range"),
			text("units"),
			text("interpretation"),
			text("remarks"),
		},
		ForeignKeys: []ForeignKey{{Column: "test_id", RefTable: "tests", RefColumn: "test_id", OnDelete: "cascade"}},
	},
	{
		Name: "reports",
		Key:  "report_id",
		Columns: []Column{
			integer("test_id"),
			text("generated_by"),
			text("generated_date"),
			text("file_format"),
			text("printed_by"),
		},
		ForeignKeys: []ForeignKey{{Column: "test_id", RefTable: "tests", RefColumn: "test_id", OnDelete: "set null"}},
	},
	{
		Name: "activity_log",
		Key:  "log_id",
		Columns: []Column{
			text("actor"),
			text("action"),
			text("target_table"),
			integer("target_id"),
			text("description"),
			timestamp("occurred_at"),
		},
	},
}}
