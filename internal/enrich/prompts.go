package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
)

// classifyPrompt drives the OCR + classification pass. The model must
// answer with a bare JSON object; JSON mode is requested where the
// backend supports it and the parse chain covers the rest.
const classifyPrompt = `Analyze this image from a technical/scientific document.

Tasks:
1. Extract ALL visible text using OCR (be thorough and accurate)
2. Describe what you see in 1-2 sentences
3. Classify the image type
4. Identify key elements and technical domain

Return ONLY valid JSON (no markdown, no explanation, no code blocks):
{
  "ocr_text": "complete extracted text from the image",
  "description": "brief image description",
  "image_type": "chart|diagram|table|formula|photo|flowchart|circuit|screenshot",
  "subtype": "specific type like bar_chart, line_plot, system_diagram, etc",
  "confidence": 0.95,
  "key_elements": ["list", "of", "key", "elements", "visible"],
  "technical_domain": "machine_learning|biology|medical|circuits|mathematics|etc"
}`

const chartPromptFmt = `This is a %s from a technical paper.

Extract the chart data in structured format. Be precise with numbers.

Return ONLY valid JSON (no markdown, no explanation):
{
  "chart_type": "line|bar|scatter|pie|heatmap",
  "axes": {
    "x": {"label": "x-axis label", "unit": "unit", "range": [min, max]},
    "y": {"label": "y-axis label", "unit": "unit", "range": [min, max]}
  },
  "series": [
    {
      "name": "series name",
      "data_points": [[x1, y1], [x2, y2]]
    }
  ],
  "legend": ["legend item 1", "legend item 2"],
  "caption": "figure caption text",
  "key_finding": "main insight or pattern"
}`

const tablePrompt = `Extract the table data in structured format. Preserve all values accurately.

Return ONLY valid JSON (no markdown, no explanation):
{
  "headers": ["column1", "column2", "column3"],
  "rows": [
    ["val1", "val2", "val3"],
    ["val4", "val5", "val6"]
  ],
  "caption": "table caption if visible",
  "notes": "any footnotes or notes"
}`

const diagramPrompt = `Extract key information from this diagram.

Return ONLY valid JSON (no markdown, no explanation):
{
  "diagram_type": "flowchart|system_diagram|network|circuit|etc",
  "components": ["component1", "component2"],
  "connections": [{"from": "A", "to": "B", "label": "connection type"}],
  "description": "overall description",
  "key_elements": ["important", "elements"]
}`

// wantsStructured reports whether a classification gets the second,
// data-extraction pass.
func wantsStructured(imageType string) bool {
	switch imageType {
	case "chart", "table", "diagram":
		return true
	}
	return false
}

// structuredPrompt picks the per-type data extraction prompt.
func structuredPrompt(imageType, subtype string) string {
	switch imageType {
	case "chart":
		if subtype == "" {
			subtype = "chart"
		}
		return fmt.Sprintf(chartPromptFmt, subtype)
	case "table":
		return tablePrompt
	default:
		return diagramPrompt
	}
}

// embedText concatenates the textual evidence for the embedding call.
// Blank when nothing was recovered; the embedding generator substitutes
// its sentinel in that case.
func embedText(ocr, context string, structured map[string]any) string {
	var parts []string
	if strings.TrimSpace(ocr) != "" {
		parts = append(parts, "Image text: "+ocr)
	}
	if strings.TrimSpace(context) != "" {
		parts = append(parts, "Context: "+context)
	}
	if len(structured) > 0 {
		if data, err := json.Marshal(structured); err == nil {
			parts = append(parts, "Data: "+string(data))
		}
	}
	return strings.Join(parts, "\n\n")
}
