package main

import (
	"encoding/json"
	"fmt"
	"os"

	vbapi "vbmix/pkg/vbmix"
)

func loadFitRequestFromConfig(path string) (vbapi.FitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vbapi.FitRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return vbapi.FitRequest{}, err
	}

	var req vbapi.FitRequest
	if v, ok := asString(raw["family"]); ok {
		req.Family = v
	}
	if v, ok := asInt(raw["components"]); ok {
		req.Components = v
	}
	if v, ok := asInt(raw["max_iterations"]); ok {
		req.MaxIterations = v
	}
	if v, ok := asFloat64(raw["tolerance"]); ok {
		req.Tolerance = v
	}
	if v, ok := asBool(raw["check_convergence"]); ok {
		req.CheckConvergence = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asString(raw["data_csv_path"]); ok {
		req.DataCSVPath = v
	}
	if v, ok := asString(raw["labels_csv_path"]); ok {
		req.LabelsCSVPath = v
	}
	if v, ok := asFloatSlice(raw["sample_weights"]); ok {
		req.SampleWeights = v
	}

	return req, nil
}

func loadOrDefaultFitRequest(configPath string) (vbapi.FitRequest, error) {
	if configPath == "" {
		return vbapi.FitRequest{}, nil
	}
	req, err := loadFitRequestFromConfig(configPath)
	if err != nil {
		return vbapi.FitRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func overrideFromFlags(req *vbapi.FitRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "family":
			req.Family = v.(string)
		case "components":
			req.Components = v.(int)
		case "max-iters":
			req.MaxIterations = v.(int)
		case "tol":
			req.Tolerance = v.(float64)
		case "check-convergence":
			req.CheckConvergence = v.(bool)
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "data":
			req.DataCSVPath = v.(string)
		case "labels":
			req.LabelsCSVPath = v.(string)
		}
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asFloatSlice(v any) ([]float64, bool) {
	xs, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(xs))
	for _, item := range xs {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
