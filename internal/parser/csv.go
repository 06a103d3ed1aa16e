package parser

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/schema"
)

// CSVParser maps delimited columns onto schema fields in declaration order.
type CSVParser struct{ base }

func (p *CSVParser) Kind() string { return KindCSV }

func (p *CSVParser) Parse(s *schema.Node, data []byte) []model.Record {
	if s == nil || s.Kind != schema.KindMap || len(s.Fields) == 0 {
		return nil
	}
	for _, f := range s.Fields {
		if f.Node.Kind == schema.KindMap {
			return nil
		}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ','
	if d := []rune(p.opts.Delimiter); len(d) == 1 {
		r.Comma = d[0]
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	keys := s.Keys()
	var records []model.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil
		}
		if len(row) != len(keys) {
			continue
		}
		rec := make(model.Record, len(keys))
		for i, key := range keys {
			rec[key] = row[i]
		}
		records = append(records, rec)
	}
	return records
}
