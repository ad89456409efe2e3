// Package attach turns uploaded files into the strings and PNG payloads the
// conversation layer embeds into messages.
package attach

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"researchbuddy/internal/models"
)

const (
	MaxFileSize = 10 << 20
	sampleRows  = 5

	PDFPlaceholder = "PDF content extraction would be implemented here."
)

var ErrTooLarge = fmt.Errorf("file exceeds %d MiB", MaxFileSize>>20)

var textExts = map[string]bool{
	".txt": true, ".md": true, ".go": true, ".py": true, ".js": true, ".ts": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".html": true, ".css": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".rs": true, ".sh": true,
	".sql": true, ".xml": true, ".log": true,
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true,
}

func ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func IsImage(name string) bool {
	return imageExts[ext(name)]
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Load reads path and returns either a file attachment or an image attachment.
func Load(path string) (*models.Attachment, *models.ImageAttachment, error) {
	data, err := readLimited(path)
	if err != nil {
		return nil, nil, err
	}
	name := filepath.Base(path)
	if IsImage(name) {
		img, err := DecodeImage(name, data)
		if err != nil {
			return nil, nil, err
		}
		return nil, &img, nil
	}
	return &models.Attachment{Name: name, Content: Extract(name, data)}, nil, nil
}

// Extract never fails; problems are described in the returned text.
func Extract(name string, data []byte) string {
	e := ext(name)
	switch {
	case textExts[e]:
		return string(data)
	case e == ".pdf":
		return PDFPlaceholder
	case e == ".csv":
		s, err := summarizeCSV(data)
		if err != nil {
			return fmt.Sprintf("Error processing file: %v", err)
		}
		return s
	case e == ".xlsx" || e == ".xlsm":
		s, err := summarizeXLSX(data)
		if err != nil {
			return fmt.Sprintf("Error processing file: %v", err)
		}
		return s
	default:
		if e == "" {
			e = name
		}
		return fmt.Sprintf("Unsupported file type: %s", e)
	}
}

func summarizeCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", errors.New("empty CSV file")
	}
	return summarize("CSV File Summary", records[0], records[1:]), nil
}

func summarizeXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("sheet %q is empty", sheets[0])
	}
	return summarize("Excel File Summary", rows[0], rows[1:]), nil
}

func summarize(title string, header []string, rows [][]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n\n", title)
	fmt.Fprintf(&sb, "Shape: %d rows, %d columns\n", len(rows), len(header))
	fmt.Fprintf(&sb, "Columns: %s\n\n", strings.Join(header, ", "))

	sb.WriteString("Data Types:\n")
	for i, col := range header {
		fmt.Fprintf(&sb, "  %s: %s\n", col, columnType(rows, i))
	}

	fmt.Fprintf(&sb, "\nSample Data (first %d rows):\n", sampleRows)
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for i, row := range rows {
		if i == sampleRows {
			break
		}
		cells := make([]string, len(header))
		copy(cells, row)
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

// columnType reports int64, float64 or object the way a dataframe would.
func columnType(rows [][]string, col int) string {
	kind := "int64"
	seen := false
	for _, row := range rows {
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		seen = true
		v := strings.TrimSpace(row[col])
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			kind = "float64"
			continue
		}
		return "object"
	}
	if !seen {
		return "object"
	}
	return kind
}

// DecodeImage accepts any supported raster format and re-encodes it as PNG.
func DecodeImage(name string, data []byte) (models.ImageAttachment, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ImageAttachment{}, fmt.Errorf("decode %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return models.ImageAttachment{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return models.ImageAttachment{Name: name, PNG: buf.Bytes()}, nil
}
