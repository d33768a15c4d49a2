package caption

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var knownKinds = map[string]bool{
	"invoice":   true,
	"receipt":   true,
	"letter":    true,
	"form":      true,
	"statement": true,
	"contract":  true,
	"photo":     true,
	"other":     true,
}

// parseSummaryJSON parses the JSON answer of a model
func parseSummaryJSON(text string) (*Summary, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data Summary
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.Date = normalizeDate(data.Date)

	data.Title = strings.Join(strings.Fields(data.Title), " ")
	if data.Title == "" {
		data.Title = "Scanned document"
	}

	data.Kind = strings.ToLower(strings.TrimSpace(data.Kind))
	if !knownKinds[data.Kind] {
		data.Kind = "other"
	}

	return &data, nil
}

// normalizeDate returns the date as YYYY-MM-DD, or empty when it cannot be read
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"02.01.2006",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

// Caption renders the summary as one caption line
func (s *Summary) Caption() string {
	if s == nil {
		return ""
	}
	if s.Date == "" {
		return s.Title
	}
	return fmt.Sprintf("%s (%s)", s.Title, s.Date)
}
