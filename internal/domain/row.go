package domain

import "github.com/jackc/pgx/v5/pgtype"

// ColumnCount is the number of positional columns in a ResultRow.
const ColumnCount = 13

// ColumnNames lists the serialized field names in column order.
var ColumnNames = [ColumnCount]string{
	"name",
	"aliasName",
	"xPosition",
	"yPosition",
	"PSRType",
	"BaseVoltage",
	"EquipmentContainer",
	"phaseConnection",
	"ao_name",
	"ao_aliasName",
	"ao_description",
	"ao_mainAddress",
	"ao_secondaryAddress",
}

// ResultRow is one record of a spatial result: a power system resource with
// its location and the attributes of the asset owner attached to it.
type ResultRow struct {
	Name               pgtype.Text
	AliasName          pgtype.Text
	XPosition          pgtype.Text
	YPosition          pgtype.Text
	PSRType            pgtype.Text
	BaseVoltage        pgtype.Text
	EquipmentContainer pgtype.Text
	PhaseConnection    pgtype.Text
	AOName             pgtype.Text
	AOAliasName        pgtype.Text
	AODescription      pgtype.Text
	AOMainAddress      pgtype.Text
	AOSecondaryAddress pgtype.Text
}

// Columns returns the row values in column order.
func (r *ResultRow) Columns() [ColumnCount]pgtype.Text {
	return [ColumnCount]pgtype.Text{
		r.Name,
		r.AliasName,
		r.XPosition,
		r.YPosition,
		r.PSRType,
		r.BaseVoltage,
		r.EquipmentContainer,
		r.PhaseConnection,
		r.AOName,
		r.AOAliasName,
		r.AODescription,
		r.AOMainAddress,
		r.AOSecondaryAddress,
	}
}

// Targets returns pointers to the row fields in column order, for scanning.
func (r *ResultRow) Targets() [ColumnCount]*pgtype.Text {
	return [ColumnCount]*pgtype.Text{
		&r.Name,
		&r.AliasName,
		&r.XPosition,
		&r.YPosition,
		&r.PSRType,
		&r.BaseVoltage,
		&r.EquipmentContainer,
		&r.PhaseConnection,
		&r.AOName,
		&r.AOAliasName,
		&r.AODescription,
		&r.AOMainAddress,
		&r.AOSecondaryAddress,
	}
}

// Text returns a valid pgtype.Text holding s.
func Text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

// ScanTargets returns the field pointers as scan destinations.
func (r *ResultRow) ScanTargets() []any {
	t := r.Targets()
	dest := make([]any, len(t))
	for i, p := range t {
		dest[i] = p
	}
	return dest
}
