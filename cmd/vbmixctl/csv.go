package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// loadMatrixCSV reads a numeric CSV into sample rows. A single leading
// header row of non-numeric column names is tolerated and skipped.
func loadMatrixCSV(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows := make([][]float64, 0, 128)
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make([]float64, len(record))
		parsed := true
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				parsed = false
				break
			}
			row[i] = v
		}
		if !parsed {
			if first {
				first = false
				continue
			}
			return nil, fmt.Errorf("non-numeric value in csv row %d of %s", len(rows)+1, path)
		}
		first = false
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no samples in %s", path)
	}
	return rows, nil
}
