package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"researchbuddy/internal/models"
)

var interactionHeader = []string{
	"interaction_id", "session_id", "timestamp", "model_name", "model_id", "temperature",
	"max_tokens", "user_query", "model_response", "has_file", "file_name", "has_image",
	"execution_time_ms",
}

func interactionRow(it models.Interaction) []string {
	return []string{
		it.InteractionID,
		it.SessionID,
		it.Timestamp.Format(time.RFC3339),
		it.ModelName,
		it.ModelID,
		strconv.FormatFloat(it.Temperature, 'f', -1, 64),
		strconv.Itoa(it.MaxTokens),
		it.UserQuery,
		it.ModelResponse,
		strconv.FormatBool(it.HasFile),
		it.FileName,
		strconv.FormatBool(it.HasImage),
		strconv.FormatInt(it.ElapsedMs, 10),
	}
}

// Interactions renders logged rows as csv, json, xlsx or text.
func Interactions(items []models.Interaction, f Format) ([]byte, error) {
	switch f {
	case CSV:
		return Table(interactionHeader, rows(items))
	case JSON:
		return json.MarshalIndent(items, "", "  ")
	case XLSX:
		return Workbook(Sheet{Name: "Interactions", Header: interactionHeader, Rows: rows(items)})
	case Text:
		return []byte(interactionsText(items)), nil
	}
	return nil, fmt.Errorf("format %s is not available for interactions", f)
}

func rows(items []models.Interaction) [][]string {
	out := make([][]string, len(items))
	for i, it := range items {
		out[i] = interactionRow(it)
	}
	return out
}

func interactionsText(items []models.Interaction) string {
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "[%s] %s (%s, %d ms)\n", it.Timestamp.Format("2006-01-02 15:04:05"), it.ModelName, it.ModelID, it.ElapsedMs)
		fmt.Fprintf(&sb, "USER: %s\n", it.UserQuery)
		fmt.Fprintf(&sb, "ASSISTANT: %s\n\n", it.ModelResponse)
	}
	return sb.String()
}

// Table writes a header and rows as CSV.
func Table(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Workbook builds an xlsx file with one worksheet per sheet.
func Workbook(sheets ...Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return nil, err
		}

		if err := writeRow(f, sh.Name, 1, sh.Header); err != nil {
			return nil, err
		}
		for r, row := range sh.Rows {
			if err := writeRow(f, sh.Name, r+2, row); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]any, len(cells))
	for i, c := range cells {
		vals[i] = c
	}
	return f.SetSheetRow(sheet, cell, &vals)
}

// StatsSheets lays out the admin statistics as tables.
func StatsSheets(st models.Stats, usage []models.ModelUsage, daily []models.DailyUsage, times []models.ResponseTime) []Sheet {
	summary := Sheet{
		Name:   "Summary",
		Header: []string{"metric", "value"},
		Rows: [][]string{
			{"total_sessions", strconv.Itoa(st.TotalSessions)},
			{"total_interactions", strconv.Itoa(st.TotalInteractions)},
			{"most_popular_model", st.PopularModel},
			{"most_popular_model_count", strconv.Itoa(st.PopularModelCount)},
		},
	}
	models := Sheet{Name: "Model Usage", Header: []string{"model_name", "count"}}
	for _, u := range usage {
		models.Rows = append(models.Rows, []string{u.ModelName, strconv.Itoa(u.Count)})
	}
	days := Sheet{Name: "Daily Usage", Header: []string{"date", "count"}}
	for _, d := range daily {
		days.Rows = append(days.Rows, []string{d.Date, strconv.Itoa(d.Count)})
	}
	latency := Sheet{Name: "Response Times", Header: []string{"model_name", "avg_execution_time_ms"}}
	for _, r := range times {
		latency.Rows = append(latency.Rows, []string{r.ModelName, strconv.FormatFloat(r.AvgMs, 'f', 1, 64)})
	}
	return []Sheet{summary, models, days, latency}
}

// StatsCSV concatenates the stats sheets, separated by a blank line.
func StatsCSV(sheets []Sheet) ([]byte, error) {
	var buf bytes.Buffer
	for i, sh := range sheets {
		if i > 0 {
			buf.WriteString("\n")
		}
		b, err := Table(sh.Header, sh.Rows)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}
