// Package render serializes result rows and failures as the text payload
// returned to callers.
//
// Both row formats list the thirteen columns in domain.ColumnNames order.
// A null column is written as the quoted text "null". The legacy text format
// does not escape values: a value holding a quote or a brace produces output
// that no JSON parser will accept. Use JSON when the consumer parses it.
package render

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/jackc/pgx/v5/pgtype"
)

// Format selects the row serialization.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Content types of the two formats.
const (
	TextContentType = "text/plain; charset=utf-8"
	JSONContentType = "application/json"
)

// NullText is what a null column renders as.
const NullText = "null"

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ContentType returns the media type of the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return JSONContentType
	}
	return TextContentType
}

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Rows renders rows in the given format.
func Rows(f Format, rows []domain.ResultRow) (string, error) {
	if f == FormatJSON {
		return JSON(rows)
	}
	return Text(rows), nil
}

// Text renders rows in the legacy format:
//
//	[{ name: "…",aliasName: "…",…,ao_secondaryAddress: "…"},
//	{ name: "…",…}]
//
// An empty result renders as [].
func Text(rows []domain.ResultRow) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := range rows {
		if i > 0 {
			b.WriteString(",\n")
		}
		writeTextRow(&b, &rows[i])
	}
	b.WriteByte(']')
	return b.String()
}

func writeTextRow(b *strings.Builder, row *domain.ResultRow) {
	b.WriteString("{ ")
	for i, col := range row.Columns() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(domain.ColumnNames[i])
		b.WriteString(`: "`)
		b.WriteString(value(col))
		b.WriteByte('"')
	}
	b.WriteByte('}')
}

func value(t pgtype.Text) string {
	if !t.Valid {
		return NullText
	}
	return t.String
}

// jsonRow fixes the field order of the JSON format.
type jsonRow struct {
	Name               string `json:"name"`
	AliasName          string `json:"aliasName"`
	XPosition          string `json:"xPosition"`
	YPosition          string `json:"yPosition"`
	PSRType            string `json:"PSRType"`
	BaseVoltage        string `json:"BaseVoltage"`
	EquipmentContainer string `json:"EquipmentContainer"`
	PhaseConnection    string `json:"phaseConnection"`
	AOName             string `json:"ao_name"`
	AOAliasName        string `json:"ao_aliasName"`
	AODescription      string `json:"ao_description"`
	AOMainAddress      string `json:"ao_mainAddress"`
	AOSecondaryAddress string `json:"ao_secondaryAddress"`
}

func toJSONRow(r *domain.ResultRow) jsonRow {
	return jsonRow{
		Name:               value(r.Name),
		AliasName:          value(r.AliasName),
		XPosition:          value(r.XPosition),
		YPosition:          value(r.YPosition),
		PSRType:            value(r.PSRType),
		BaseVoltage:        value(r.BaseVoltage),
		EquipmentContainer: value(r.EquipmentContainer),
		PhaseConnection:    value(r.PhaseConnection),
		AOName:             value(r.AOName),
		AOAliasName:        value(r.AOAliasName),
		AODescription:      value(r.AODescription),
		AOMainAddress:      value(r.AOMainAddress),
		AOSecondaryAddress: value(r.AOSecondaryAddress),
	}
}

// JSON renders rows as a JSON array of objects, one row per line.
func JSON(rows []domain.ResultRow) (string, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i := range rows {
		if i > 0 {
			b.WriteString(",\n")
		}
		data, err := json.Marshal(toJSONRow(&rows[i]))
		if err != nil {
			return "", err
		}
		b.Write(data)
	}
	b.WriteByte(']')
	return b.String(), nil
}

// Diagnostic renders err as a diagnostic block: a first line naming the
// error kind and the failed step, then one "\tcaused by: " line per wrapped
// cause. Errors without a kind are reported as InteractionFailed.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	var de *domain.Error
	var cause error
	if errors.As(err, &de) {
		b.WriteString(string(de.Kind))
		if de.Op != "" {
			b.WriteString(": ")
			b.WriteString(de.Op)
		}
		cause = de.Err
	} else {
		b.WriteString(string(domain.InteractionFailed))
		cause = err
	}

	for ; cause != nil; cause = errors.Unwrap(cause) {
		b.WriteString("\n\tcaused by: ")
		b.WriteString(cause.Error())
	}
	return b.String()
}
