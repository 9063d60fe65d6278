// Package report renders duplicate candidates and groups as a text table,
// CSV, or an XLSX workbook.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crm-rules/internal/dedupe"
	"github.com/sells-group/crm-rules/internal/model"
)

var candidateHeader = []string{"SCORE", "TYPE", "FIRST_ID", "FIRST_NAME", "SECOND_ID", "SECOND_NAME", "MATCHED"}

var groupHeader = []string{"GROUP", "TYPE", "BEST_SCORE", "PAIRS", "IDS"}

// CandidateRows flattens candidates into string rows, without a header.
func CandidateRows(candidates []model.DuplicateCandidate) [][]string {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			strconv.Itoa(c.Score),
			string(c.EntityType),
			c.First.EntityID(),
			c.First.DisplayName(),
			c.Second.EntityID(),
			c.Second.DisplayName(),
			matched(c.MatchedFields),
		})
	}
	return rows
}

// GroupRows flattens groups into string rows, without a header.
func GroupRows(groups []dedupe.Group) [][]string {
	rows := make([][]string, 0, len(groups))
	for i, g := range groups {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(g.EntityType),
			strconv.Itoa(g.BestScore),
			strconv.Itoa(len(g.Pairs)),
			strings.Join(g.IDs, ","),
		})
	}
	return rows
}

func matched(fields map[string]bool) string {
	var names []string
	for k, v := range fields {
		if v {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

// WriteTable writes an aligned text table.
func WriteTable(out io.Writer, header []string, rows [][]string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	return eris.Wrap(w.Flush(), "report: flush table")
}

// WriteCandidatesTable writes candidates as a text table.
func WriteCandidatesTable(out io.Writer, candidates []model.DuplicateCandidate) error {
	return WriteTable(out, candidateHeader, CandidateRows(candidates))
}

// WriteGroupsTable writes groups as a text table.
func WriteGroupsTable(out io.Writer, groups []dedupe.Group) error {
	return WriteTable(out, groupHeader, GroupRows(groups))
}

// WriteCandidatesCSV writes candidates as CSV with a lower-case header.
func WriteCandidatesCSV(out io.Writer, candidates []model.DuplicateCandidate) error {
	w := csv.NewWriter(out)
	header := make([]string, len(candidateHeader))
	for i, h := range candidateHeader {
		header[i] = strings.ToLower(h)
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	if err := w.WriteAll(CandidateRows(candidates)); err != nil {
		return eris.Wrap(err, "report: write csv rows")
	}
	return nil
}

// WriteXLSX writes a workbook with a "Candidates" sheet and a "Groups"
// sheet. Scores are written as numbers.
func WriteXLSX(out io.Writer, candidates []model.DuplicateCandidate, groups []dedupe.Group) error {
	f := xlsx.NewFile()

	if err := addSheet(f, "Candidates", candidateHeader, CandidateRows(candidates), 0); err != nil {
		return err
	}
	if err := addSheet(f, "Groups", groupHeader, GroupRows(groups), 2); err != nil {
		return err
	}
	return eris.Wrap(f.Write(out), "report: write xlsx")
}

// addSheet writes header and rows; the column at numericCol is stored as an
// integer cell.
func addSheet(f *xlsx.File, name string, header []string, rows [][]string, numericCol int) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %s", name)
	}
	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for i, v := range r {
			cell := row.AddCell()
			if i == numericCol {
				if n, err := strconv.Atoi(v); err == nil {
					cell.SetInt(n)
					continue
				}
			}
			cell.SetString(v)
		}
	}
	return nil
}
