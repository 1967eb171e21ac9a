package record

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// FitRun is the persisted outcome of one fit session.
type FitRun struct {
	VersionedRecord
	ID             string       `json:"id"`
	CreatedAt      time.Time    `json:"created_at"`
	Expression     string       `json:"expression"`
	Statistic      string       `json:"statistic"`
	Weighting      string       `json:"weighting"`
	Method         string       `json:"method"`
	Status         string       `json:"status"`
	Error          string       `json:"error,omitempty"`
	Iterations     int          `json:"iterations"`
	Value          float64      `json:"value"`
	DOF            int          `json:"dof"`
	NullHypothesis float64      `json:"null_hypothesis,omitempty"`
	Datasets       []string     `json:"datasets"`
	Params         []Param      `json:"params"`
	ErrorBounds    []ErrorBound `json:"error_bounds,omitempty"`
	Goodness       []Goodness   `json:"goodness,omitempty"`
	Pegged         []string     `json:"pegged,omitempty"`
	Faults         []string     `json:"faults,omitempty"`
	History        []float64    `json:"history"`
	// Predicted holds the folded model next to the data of every dataset.
	Predicted []DatasetCounts `json:"predicted,omitempty"`
	// Components holds the flux of every component on its group's grid.
	Components []ComponentFlux `json:"components,omitempty"`
}

type DatasetCounts struct {
	Dataset string    `json:"dataset"`
	Counts  []float64 `json:"counts"`
	Model   []float64 `json:"model"`
}

type ComponentFlux struct {
	Label string    `json:"label"`
	Group int       `json:"group"`
	Flux  []float64 `json:"flux"`
}

type Param struct {
	Index  int     `json:"index"`
	Label  string  `json:"label"`
	Unit   string  `json:"unit,omitempty"`
	Value  float64 `json:"value"`
	Sigma  float64 `json:"sigma"`
	Frozen bool    `json:"frozen"`
	Link   string  `json:"link,omitempty"`
	Pegged bool    `json:"pegged"`
}

type ErrorBound struct {
	Index           int     `json:"index"`
	Label           string  `json:"label"`
	Low             float64 `json:"low"`
	High            float64 `json:"high"`
	LowAtLimit      bool    `json:"low_at_limit"`
	HighAtLimit     bool    `json:"high_at_limit"`
	LowUnbracketed  bool    `json:"low_unbracketed,omitempty"`
	HighUnbracketed bool    `json:"high_unbracketed,omitempty"`
	NewMinimum      bool    `json:"new_minimum"`
}

type Goodness struct {
	Test  string  `json:"test"`
	Value float64 `json:"value"`
}

// FitRunSummary is the listing view of a FitRun.
type FitRunSummary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Expression string    `json:"expression"`
	Statistic  string    `json:"statistic"`
	Status     string    `json:"status"`
	Value      float64   `json:"value"`
	DOF        int       `json:"dof"`
}

func (r FitRun) Summary() FitRunSummary {
	return FitRunSummary{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		Expression: r.Expression,
		Statistic:  r.Statistic,
		Status:     r.Status,
		Value:      r.Value,
		DOF:        r.DOF,
	}
}
