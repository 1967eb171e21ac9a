package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"xspecfit/internal/record"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp sets the current schema and codec versions on a run.
func Stamp(run record.FitRun) record.FitRun {
	run.VersionedRecord = record.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	return run
}

func EncodeFitRun(run record.FitRun) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeFitRun(data []byte) (record.FitRun, error) {
	var run record.FitRun
	if err := json.Unmarshal(data, &run); err != nil {
		return record.FitRun{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return record.FitRun{}, err
	}
	return run, nil
}

func checkVersion(v record.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortSummaries(summaries []record.FitRunSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
}
