package classify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Label is a classification outcome.
type Label string

const (
	LabelGood         Label = "good"
	LabelSuspicious   Label = "suspicious"
	LabelClickjacking Label = "clickjacking"
	// LabelError is not produced by the classifier: it marks a pass whose
	// classification could not be obtained.
	LabelError Label = "error"
)

// Valid reports whether l is one of the three classifier labels.
func (l Label) Valid() bool {
	switch l {
	case LabelGood, LabelSuspicious, LabelClickjacking:
		return true
	}
	return false
}

// Alarming reports whether l warrants an alert.
func (l Label) Alarming() bool {
	return l == LabelSuspicious || l == LabelClickjacking
}

// Verdict is the classifier's answer for one feature vector.
type Verdict struct {
	Label      Label      `json:"prediction"`
	Confidence Confidence `json:"confidence"`
	Reasons    []string   `json:"reasons"`
	// Error is set on LabelError verdicts.
	Error string `json:"error,omitempty"`
}

// ErrorVerdict wraps a classification failure.
func ErrorVerdict(err error) Verdict {
	return Verdict{Label: LabelError, Error: err.Error()}
}

// Confidence is a fraction in [0, 1]. On the wire the classifier may send a
// fraction, a percentage, or a percent string such as "97.00%".
type Confidence float64

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var v float64
	switch x := raw.(type) {
	case nil:
		*c = 0
		return nil
	case float64:
		v = fraction(x)
	case string:
		s := strings.TrimSpace(x)
		num, pct := strings.CutSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return fmt.Errorf("classify: invalid confidence %q", x)
		}
		if pct {
			v = f / 100
		} else {
			v = fraction(f)
		}
	default:
		return fmt.Errorf("classify: invalid confidence %s", data)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("classify: confidence out of range: %s", data)
	}
	*c = Confidence(v)
	return nil
}

// fraction reads a bare number above 1 as a percentage.
func fraction(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// Percent formats c the way the classifier reports it.
func (c Confidence) Percent() string {
	return strconv.FormatFloat(float64(c)*100, 'f', 2, 64) + "%"
}
