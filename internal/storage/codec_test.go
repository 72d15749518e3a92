package storage

import (
	"errors"
	"testing"

	"vbmix/internal/model"
)

func TestRunCodecRoundTrip(t *testing.T) {
	input := model.RunRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:              "run-1",
		Family:          "discrete",
		NComponents:     3,
		FinalNFE:        -12.25,
	}

	payload, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode run: %v", err)
	}
	output, err := DecodeRun(payload)
	if err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if output.ID != input.ID || output.Family != input.Family || output.FinalNFE != input.FinalNFE {
		t.Fatalf("unexpected run: %+v", output)
	}
}

func TestDecodeRunRejectsVersionMismatch(t *testing.T) {
	input := model.RunRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		ID:              "run-1",
	}
	payload, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode run: %v", err)
	}
	if _, err := DecodeRun(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestIterationStatsCodecRoundTrip(t *testing.T) {
	input := []model.IterationStats{
		{Iteration: 1, NegativeFreeEnergy: -3.5, ELogLikelihood: -3.0, KLD: 0.5},
	}
	payload, err := EncodeIterationStats(input)
	if err != nil {
		t.Fatalf("encode iteration stats: %v", err)
	}
	output, err := DecodeIterationStats(payload)
	if err != nil {
		t.Fatalf("decode iteration stats: %v", err)
	}
	if len(output) != 1 || output[0].KLD != 0.5 {
		t.Fatalf("unexpected iteration stats: %+v", output)
	}
}
