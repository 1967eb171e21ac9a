package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"xspecfit/internal/record"
)

const (
	runFile     = "run.json"
	paramsFile  = "params.csv"
	historyFile = "history.csv"
	boundsFile  = "error_bounds.csv"
	modelFile   = "model.csv"
)

// WriteRunArtifacts writes a fit run as a directory named after its id:
// the full record as JSON plus CSV tables of parameters, statistic history,
// folded model counts and confidence bounds.
func WriteRunArtifacts(baseDir string, run record.FitRun) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, runFile), run); err != nil {
		return "", err
	}
	if err := WriteHistory(runDir, run.History); err != nil {
		return "", err
	}

	params := [][]string{{"index", "label", "value", "sigma", "unit", "frozen", "link", "pegged"}}
	for _, p := range run.Params {
		params = append(params, []string{
			strconv.Itoa(p.Index),
			p.Label,
			formatFloat(p.Value),
			formatFloat(p.Sigma),
			p.Unit,
			strconv.FormatBool(p.Frozen),
			p.Link,
			strconv.FormatBool(p.Pegged),
		})
	}
	if err := writeCSV(filepath.Join(runDir, paramsFile), params); err != nil {
		return "", err
	}

	if len(run.Predicted) > 0 {
		rows := [][]string{{"dataset", "channel", "counts", "model"}}
		for _, d := range run.Predicted {
			for i := range d.Model {
				counts := ""
				if i < len(d.Counts) {
					counts = formatFloat(d.Counts[i])
				}
				rows = append(rows, []string{d.Dataset, strconv.Itoa(i + 1), counts, formatFloat(d.Model[i])})
			}
		}
		if err := writeCSV(filepath.Join(runDir, modelFile), rows); err != nil {
			return "", err
		}
	}

	if len(run.ErrorBounds) > 0 {
		bounds := [][]string{{"index", "label", "low", "high", "low_at_limit", "high_at_limit", "low_unbracketed", "high_unbracketed", "new_minimum"}}
		for _, b := range run.ErrorBounds {
			bounds = append(bounds, []string{
				strconv.Itoa(b.Index),
				b.Label,
				formatFloat(b.Low),
				formatFloat(b.High),
				strconv.FormatBool(b.LowAtLimit),
				strconv.FormatBool(b.HighAtLimit),
				strconv.FormatBool(b.LowUnbracketed),
				strconv.FormatBool(b.HighUnbracketed),
				strconv.FormatBool(b.NewMinimum),
			})
		}
		if err := writeCSV(filepath.Join(runDir, boundsFile), bounds); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// WriteHistory writes the accepted statistic values, the starting value as
// iteration 0.
func WriteHistory(runDir string, history []float64) error {
	rows := [][]string{{"iteration", "statistic"}}
	for i, v := range history {
		rows = append(rows, []string{strconv.Itoa(i), formatFloat(v)})
	}
	return writeCSV(filepath.Join(runDir, historyFile), rows)
}

func ReadHistory(runDir string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(runDir, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("history header must have at least 2 columns")
	}

	history := make([]float64, 0, 32)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(row) < 2 {
			return nil, false, fmt.Errorf("history row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, false, err
		}
		history = append(history, value)
	}
	return history, true, nil
}

// ReadRun loads run.json from a directory written by WriteRunArtifacts.
func ReadRun(runDir string) (record.FitRun, bool, error) {
	data, err := os.ReadFile(filepath.Join(runDir, runFile))
	if err != nil {
		if os.IsNotExist(err) {
			return record.FitRun{}, false, nil
		}
		return record.FitRun{}, false, err
	}
	var run record.FitRun
	if err := json.Unmarshal(data, &run); err != nil {
		return record.FitRun{}, false, err
	}
	return run, true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Sync()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
