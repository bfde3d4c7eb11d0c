package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readFeatureCSV parses a feature history file: a header row naming the
// columns, then one row per time step. Every required feature must appear
// in the header; extra columns are ignored.
func readFeatureCSV(path string, features []string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	index := make([]int, len(features))
	for i, name := range features {
		index[i] = -1
		for j, col := range header {
			if col == name {
				index[i] = j
				break
			}
		}
		if index[i] == -1 {
			return nil, fmt.Errorf("%s: missing required column %q", path, name)
		}
	}

	var observations [][]float64
	for line := 2; ; line++ {
		record, err := r.Read()
		if err != nil {
			break
		}
		row := make([]float64, len(features))
		for i, col := range index {
			if col >= len(record) {
				return nil, fmt.Errorf("%s:%d: short record", path, line)
			}
			v, err := strconv.ParseFloat(record[col], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: column %q: %w", path, line, features[i], err)
			}
			row[i] = v
		}
		observations = append(observations, row)
	}

	if len(observations) == 0 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}
	return observations, nil
}

// parseFeatureFlags turns "name=value,name=value" into an ordered vector
// per the detector's required feature layout.
func parseFeatureFlags(spec string, features []string) ([]float64, error) {
	values := make(map[string]float64, len(features))
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed feature assignment %q", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}
		values[name] = v
	}

	vector := make([]float64, len(features))
	for i, name := range features {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %q (required: %v)", name, features)
		}
		vector[i] = v
	}
	return vector, nil
}
