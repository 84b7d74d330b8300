// Package render writes forecast records and option lists for terminal
// output. Tables go through text/tabwriter; json and ndjson write the model
// types as they are.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/selection"
)

// Format selects an output encoding.
type Format string

const (
	FormatTable  Format = "table"
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
)

// Missing is printed for null metric values in tables.
const Missing = "-"

// ParseFormat resolves a user-supplied format name. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatNDJSON:
		return f, nil
	default:
		return "", fmt.Errorf("render: unknown format %q (want table, json or ndjson)", s)
	}
}

// Records writes records in format. Table columns are priogrid, country,
// month, lat, lon and then one column per entry in metrics, in that order.
func Records(w io.Writer, format Format, records []model.Record, metrics []string) error {
	switch format {
	case FormatJSON:
		if records == nil {
			records = []model.Record{}
		}
		return writeJSON(w, records)
	case FormatNDJSON:
		enc := json.NewEncoder(w)
		for i, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("render: encode record %d: %w", i+1, err)
			}
		}
		return nil
	case FormatTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		header := append([]string{"PRIOGRID", "COUNTRY", "MONTH", "LAT", "LON"}, metrics...)
		fmt.Fprintln(tw, strings.Join(header, "\t"))
		for _, r := range records {
			row := []string{
				r.PriogridID.String(),
				r.CountryID.String(),
				r.MonthID.String(),
				formatFloat(r.Lat),
				formatFloat(r.Lon),
			}
			for _, m := range metrics {
				row = append(row, metricCell(r.Metrics, m))
			}
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("render: flush table: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("render: unknown format %q", format)
	}
}

// Result writes a retrieval result using its own metric column order.
func Result(w io.Writer, format Format, r model.Result) error {
	if format == FormatJSON {
		return writeJSON(w, r)
	}
	return Records(w, format, r.Records, r.MetricColumns())
}

// optionsView is the JSON shape of Options.
type optionsView struct {
	Status     selection.Status   `json:"status"`
	Descriptor model.Descriptor   `json:"selection"`
	Options    []*model.OptionSet `json:"options"`
}

// Options writes every option list loaded in snap. Scope fields are
// listed when the catalogue restricts them. ndjson writes one option set
// per line.
func Options(w io.Writer, format Format, snap selection.Snapshot) error {
	var sets []*model.OptionSet
	for _, f := range model.Fields {
		if set, ok := snap.OptionSet(f); ok {
			sets = append(sets, &set)
		}
	}

	switch format {
	case FormatJSON:
		return writeJSON(w, optionsView{Status: snap.Status, Descriptor: snap.Descriptor, Options: sets})
	case FormatNDJSON:
		enc := json.NewEncoder(w)
		for _, set := range sets {
			if err := enc.Encode(set); err != nil {
				return fmt.Errorf("render: encode %s options: %w", set.Field, err)
			}
		}
		return nil
	case FormatTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tVALUE\tLABEL")
		for _, set := range sets {
			for _, o := range set.Options {
				label := o.Label
				if label == o.Value {
					label = ""
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", set.Field, o.Value, label)
			}
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("render: flush table: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("render: unknown format %q", format)
	}
}

// SplitList splits a comma-separated flag value, trimming blanks and
// dropping empty and duplicate entries.
func SplitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

func metricCell(metrics map[string]*float64, name string) string {
	v, ok := metrics[name]
	if !ok || v == nil {
		return Missing
	}
	return formatFloat(*v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("render: encode json: %w", err)
	}
	return nil
}
