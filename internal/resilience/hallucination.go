package resilience

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)I (?:am|is) (?:an? )?AI`),
	regexp.MustCompile(`(?i)As an? AI`),
	regexp.MustCompile(`(?i)I (?:do not|don't) have`),
	regexp.MustCompile(`(?i)I (?:cannot|can't)`),
	regexp.MustCompile(`(?i)This is (?:not|n't) real`),
	regexp.MustCompile(`(?i)I (?:am|is) (?:not|n't) sure`),
	regexp.MustCompile(`(?i)I (?:believe|think) (?:that )?this (?:might|may|could)`),
	regexp.MustCompile(`(?i)\b(?:obviously|clearly)\b`),
	regexp.MustCompile(`(?i)\b(?:certainly|definitely|absolutely)\b`),
}

var (
	contradictionMarkers = []string{"however", "but", "although", "despite", "on the other hand"}
	uncertaintyMarkers   = []string{"maybe", "perhaps", "possibly", "might", "could", "may", "seems"}
)

// HallucinationThreshold is the score above which a response is flagged.
const HallucinationThreshold = 0.6

// Detection is the hallucination detector's verdict on one text.
type Detection struct {
	Flagged            bool     `json:"flagged"`
	Score              float64  `json:"score"`
	Reasons            []string `json:"reasons,omitempty"`
	ConfidenceMismatch bool     `json:"confidence_mismatch"`
}

// DetectHallucination scores text for self-reference, hedging and
// contradiction markers. confidence < 0 skips the mismatch check.
func DetectHallucination(text string, confidence float64) Detection {
	var d Detection
	for _, re := range suspiciousPatterns {
		if n := len(re.FindAllStringIndex(text, -1)); n > 0 {
			d.Score += float64(n) * 0.2
			d.Reasons = append(d.Reasons, fmt.Sprintf("AI self-reference detected: %d instances", n))
		}
	}

	lower := strings.ToLower(text)
	if n := countMarkers(lower, uncertaintyMarkers); n > 3 {
		d.Score += 0.3
		d.Reasons = append(d.Reasons, fmt.Sprintf("excessive uncertainty: %d indicators", n))
	}
	if n := countMarkers(lower, contradictionMarkers); n > 2 {
		d.Score += 0.2
		d.Reasons = append(d.Reasons, fmt.Sprintf("multiple contradictions: %d instances", n))
	}
	if confidence > 0.8 && d.Score > 0.5 {
		d.Score += 0.3
		d.ConfidenceMismatch = true
		d.Reasons = append(d.Reasons, "high confidence with suspicious content")
	}
	if d.Score > 1 {
		d.Score = 1
	}
	d.Flagged = d.Score > HallucinationThreshold
	return d
}

func countMarkers(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			n++
		}
	}
	return n
}

// Sanitize lowers the confidence of a successful response whose content
// looks hallucinated. Other responses are returned unchanged.
func Sanitize(resp *types.AgentResponse) (*types.AgentResponse, Detection) {
	if resp == nil || !resp.Success {
		return resp, Detection{}
	}
	d := DetectHallucination(resp.Content.Text(), resp.Confidence)
	if !d.Flagged {
		return resp, d
	}

	out := *resp
	out.Confidence = resp.Confidence - 0.2
	if out.Confidence < 0.3 {
		out.Confidence = 0.3
	}
	out.Reasoning = strings.TrimSpace(resp.Reasoning + " [content flagged as potentially unreliable]")
	out.Suggestions = append(append([]string(nil), resp.Suggestions...),
		"Some content was flagged as potentially unreliable",
		"Consider verifying the information independently",
	)
	out.Metadata = make(map[string]string, len(resp.Metadata)+3)
	for k, v := range resp.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata["hallucination_detected"] = "true"
	out.Metadata["original_confidence"] = fmt.Sprintf("%.2f", resp.Confidence)
	out.Metadata["hallucination_score"] = fmt.Sprintf("%.2f", d.Score)
	return &out, d
}
