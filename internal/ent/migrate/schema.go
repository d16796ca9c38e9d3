// Package migrate declares the relational tables backing entstore, in the
// shape ent's Atlas migrator consumes.
package migrate

import (
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const textSize = 2147483647

var timeType = map[string]string{
	dialect.Postgres: "TIMESTAMPTZ",
	dialect.SQLite:   "DATETIME",
}

var (
	// CvesColumns holds the columns for the "cves" table.
	CvesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "cve_id", Type: field.TypeString, Unique: true},
		{Name: "title", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "description", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "technical_description", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "severity", Type: field.TypeString, Default: ""},
		{Name: "cvss_score", Type: field.TypeFloat64, Default: 0},
		{Name: "cvss_vector", Type: field.TypeString, Default: ""},
		{Name: "exploit_maturity", Type: field.TypeString, Default: ""},
		{Name: "remediation_level", Type: field.TypeString, Default: ""},
		{Name: "report_confidence", Type: field.TypeString, Default: ""},
		{Name: "classification_location", Type: field.TypeString, Default: ""},
		{Name: "classification_attack_type", Type: field.TypeString, Default: ""},
		{Name: "classification_impact", Type: field.TypeString, Default: ""},
		{Name: "solution", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "keywords", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "reference_urls", Type: field.TypeString, Size: textSize, Default: "[]"},
		{Name: "affected_products", Type: field.TypeString, Size: textSize, Default: "[]"},
		{Name: "published", Type: field.TypeTime, Nullable: true, SchemaType: timeType},
		{Name: "last_modified", Type: field.TypeTime, Nullable: true, SchemaType: timeType},
		{Name: "is_active", Type: field.TypeBool, Default: true},
	}
	// CvesTable holds the schema information for the "cves" table.
	CvesTable = &schema.Table{
		Name:       "cves",
		Columns:    CvesColumns,
		PrimaryKey: []*schema.Column{CvesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "cve_severity", Columns: []*schema.Column{CvesColumns[5]}},
			{Name: "cve_cvss_score", Columns: []*schema.Column{CvesColumns[6]}},
			{Name: "cve_published", Columns: []*schema.Column{CvesColumns[18]}},
		},
	}
	// TurnsColumns holds the columns for the "turns" table.
	TurnsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "turn_id", Type: field.TypeString, Unique: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "seq", Type: field.TypeInt64},
		{Name: "input", Type: field.TypeString, Size: textSize},
		{Name: "tool", Type: field.TypeString, Default: ""},
		{Name: "source", Type: field.TypeString, Default: ""},
		{Name: "params", Type: field.TypeString, Size: textSize, Default: "{}"},
		{Name: "status", Type: field.TypeString},
		{Name: "format", Type: field.TypeString, Default: ""},
		{Name: "rendered", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "created_at", Type: field.TypeTime, SchemaType: timeType},
	}
	// TurnsTable holds the schema information for the "turns" table.
	TurnsTable = &schema.Table{
		Name:       "turns",
		Columns:    TurnsColumns,
		PrimaryKey: []*schema.Column{TurnsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "turn_session_id_seq", Unique: true, Columns: []*schema.Column{TurnsColumns[2], TurnsColumns[3]}},
			{Name: "turn_session_id", Columns: []*schema.Column{TurnsColumns[2]}},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		CvesTable,
		TurnsTable,
	}
)
