package fetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Row is the ordered cell text of one table row
type Row []string

// Parser turns a raw response body into candidate rows.
type Parser interface {
	Parse(raw []byte) ([]Row, error)
}

// TableParser reads the first <table> of an HTML page, skipping its header row
type TableParser struct{}

// Parse implements Parser.
func (TableParser) Parse(raw []byte) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}

	var rows []Row
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := make(Row, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	return rows, nil
}
