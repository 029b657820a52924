// Package tabular turns an engine cursor into a sequence of result rows.
package tabular

import (
	"iter"
	"strconv"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/domain"
)

// Rows iterates rs lazily. Each step advances the cursor once and yields
// one row. A scan or cursor failure is yielded once as a RowReadFailed error
// and ends the sequence. The sequence cannot be restarted and Rows never
// closes rs.
func Rows(rs connector.ResultSet) iter.Seq2[domain.ResultRow, error] {
	return func(yield func(domain.ResultRow, error) bool) {
		index := 0
		for rs.Next() {
			var row domain.ResultRow
			if err := rs.Scan(row.ScanTargets()...); err != nil {
				yield(domain.ResultRow{}, domain.Wrap(domain.RowReadFailed, scanOp(index), err))
				return
			}
			index++
			if !yield(row, nil) {
				return
			}
		}
		if err := rs.Err(); err != nil {
			yield(domain.ResultRow{}, domain.Wrap(domain.RowReadFailed, "advance cursor", err))
		}
	}
}

// Collect drains the sequence. Rows read before a failure are returned
// together with the failure.
func Collect(seq iter.Seq2[domain.ResultRow, error]) ([]domain.ResultRow, error) {
	var rows []domain.ResultRow
	for row, err := range seq {
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func scanOp(index int) string {
	return "scan row " + strconv.Itoa(index+1)
}
