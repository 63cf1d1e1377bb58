/*
Copyright 2021 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commander

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const (
	// PrinterOutputFormat is the command annotation naming its default output format.
	PrinterOutputFormat = "outputFormat"
	// PrinterColumns is the command annotation listing (comma separated) the table columns.
	PrinterColumns = "columns"
)

// Formats are the supported output formats, the empty format is the default table.
var Formats = []string{"", "wide", "name", "csv", "json", "yaml"}

// ResourcePrinter writes an object to a stream.
type ResourcePrinter interface {
	PrintObj(obj interface{}, w io.Writer) error
}

// TableMeta describes how the row oriented formats render the objects of a command.
type TableMeta interface {
	// ExtractList returns the rows of an object, a single object is one row
	ExtractList(obj interface{}) ([]interface{}, error)
	// Columns are the default columns for the output format
	Columns(obj interface{}, outputFormat string) []string
	// ExtractValue returns the cell of a row
	ExtractValue(row interface{}, column string) (string, error)
	// Header returns the title of a column
	Header(outputFormat string, column string) string
}

// NoPrinterError is returned for an unsupported output format.
type NoPrinterError struct {
	OutputFormat   string
	AllowedFormats []string
}

func (e NoPrinterError) Error() string {
	allowed := append([]string(nil), e.AllowedFormats...)
	sort.Strings(allowed)
	return fmt.Sprintf("no printer for %s, allowed formats are: %s", e.OutputFormat, strings.Join(allowed, ","))
}

// printFlags are the options for creating a printer
type printFlags struct {
	meta         TableMeta
	outputFormat string
	columns      []string
	noHeader     bool
}

func newPrintFlags(meta TableMeta, annotations map[string]string) *printFlags {
	pf := &printFlags{meta: meta, outputFormat: strings.ToLower(annotations[PrinterOutputFormat])}
	for _, c := range strings.Split(annotations[PrinterColumns], ",") {
		if c = strings.TrimSpace(c); c != "" {
			pf.columns = append(pf.columns, c)
		}
	}
	return pf
}

// addFlags adds command line flags for configuring the printer
func (f *printFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.outputFormat, "output", "o", f.outputFormat, "output `format`")
	cmd.Flags().BoolVar(&f.noHeader, "no-headers", f.noHeader, "don't print headers")
	SetFlagValues(cmd, "output", Formats...)
}

// toPrinter generates a new printer
func (f *printFlags) toPrinter(printer *ResourcePrinter) error {
	switch format := strings.ToLower(f.outputFormat); format {
	case "json", "yaml":
		*printer = &marshalPrinter{outputFormat: format}
	case "", "wide":
		*printer = &rowPrinter{meta: f.meta, columns: f.columns, headers: !f.noHeader, outputFormat: format}
	case "name":
		*printer = &rowPrinter{meta: f.meta, columns: []string{"name"}, outputFormat: format}
	case "csv":
		*printer = &rowPrinter{meta: f.meta, headers: !f.noHeader, outputFormat: format}
	default:
		return NoPrinterError{OutputFormat: f.outputFormat, AllowedFormats: Formats[1:]}
	}
	return nil
}

// marshalPrinter encodes the whole object as JSON or YAML
type marshalPrinter struct {
	outputFormat string
}

func (p *marshalPrinter) PrintObj(obj interface{}, w io.Writer) error {
	if p.outputFormat == "yaml" {
		output, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = w.Write(output)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(obj)
}

// rowWriter is the destination of a row oriented printer
type rowWriter interface {
	Write(row []string) error
	Flush() error
}

// rowPrinter generates tabular or CSV output
type rowPrinter struct {
	meta         TableMeta
	columns      []string
	headers      bool
	outputFormat string
}

// PrintObj writes one row per extracted list item
func (p *rowPrinter) PrintObj(obj interface{}, w io.Writer) error {
	rows, err := p.meta.ExtractList(obj)
	if err != nil {
		return err
	}

	var rw rowWriter
	columns := p.columns
	if p.outputFormat == "csv" {
		rw = &csvRows{w: csv.NewWriter(w)}
	} else {
		if len(rows) == 0 {
			_, err = fmt.Fprintln(w, "No experiments found.")
			return err
		}
		rw = &tableRows{w: tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)}
	}
	if len(columns) == 0 {
		columns = p.meta.Columns(obj, p.outputFormat)
	}

	buf := make([]string, len(columns))
	if p.headers {
		for i := range columns {
			buf[i] = p.meta.Header(p.outputFormat, columns[i])
		}
		if err := rw.Write(buf); err != nil {
			return err
		}
	}

	for y := range rows {
		for x := range columns {
			if buf[x], err = p.meta.ExtractValue(rows[y], columns[x]); err != nil {
				return err
			}
		}
		if err := rw.Write(buf); err != nil {
			return err
		}
	}

	return rw.Flush()
}

type tableRows struct {
	w *tabwriter.Writer
}

func (t *tableRows) Write(row []string) error {
	if len(row) == 1 {
		// No trailing tab, no padding
		_, err := fmt.Fprintln(t.w, row[0])
		return err
	}
	_, err := fmt.Fprintf(t.w, "%s\t\n", strings.Join(row, "\t"))
	return err
}

func (t *tableRows) Flush() error { return t.w.Flush() }

type csvRows struct {
	w *csv.Writer
}

func (c *csvRows) Write(row []string) error { return c.w.Write(row) }

func (c *csvRows) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
