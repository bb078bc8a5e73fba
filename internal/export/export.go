// Package export writes previewed leads to JSON or XLSX files.
package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadpipe/internal/model"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Leads"

var xlsxHeader = []string{
	"Place ID", "Name", "Address", "Lat", "Lng", "Phone", "Website", "Domain",
	"Price Level", "Types", "Business Status", "Opening Hours", "Maps URL",
	"Rating", "Ratings Total", "Niche", "Location",
}

// Write saves leads to path, choosing the format from its extension
// (.xlsx, otherwise JSON).
func Write(path string, leads []model.Lead) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, leads)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteJSON(f, leads); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "export: encode json")
}

// WriteXLSX writes one header row plus one row per lead.
func WriteXLSX(path string, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}

	for i := range leads {
		l := &leads[i]
		row := sheet.AddRow()
		row.AddCell().SetString(l.PlaceID)
		row.AddCell().SetString(l.Name)
		row.AddCell().SetString(l.FormattedAddress)
		addFloat(row, l.Lat)
		addFloat(row, l.Lng)
		row.AddCell().SetString(l.Phone)
		row.AddCell().SetString(l.Website)
		row.AddCell().SetString(l.Domain)
		row.AddCell().SetString(l.PriceLevel)
		row.AddCell().SetString(strings.Join(l.Types, ", "))
		row.AddCell().SetString(l.BusinessStatus)
		row.AddCell().SetString(strings.Join(l.OpeningHours, "; "))
		row.AddCell().SetString(l.MapsURL)
		addFloat(row, l.Rating)
		row.AddCell().SetInt(l.UserRatingsTotal)
		row.AddCell().SetString(l.Niche)
		row.AddCell().SetString(l.Location)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addFloat(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v != nil {
		cell.SetFloat(*v)
	}
}
