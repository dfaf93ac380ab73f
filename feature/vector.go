package feature

import (
	"bytes"
	"fmt"
)

// Bit is a boolean that travels as 0 or 1, the form the classifier's
// feature columns expect.
type Bit bool

func (b Bit) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (b *Bit) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "1", "true":
		*b = true
	case "0", "false", "null":
		*b = false
	default:
		return fmt.Errorf("feature: invalid bit %s", data)
	}
	return nil
}

// Int returns 0 or 1.
func (b Bit) Int() int {
	if b {
		return 1
	}
	return 0
}

// Vector is the fixed-schema summary of one analysis pass. It is built once
// and passed by value.
type Vector struct {
	IframeCount             int    `json:"iframe_count"`
	InvisibleCount          int    `json:"invisible_count"`
	LargeIframeCount        int    `json:"large_iframe_count"`
	ZIndexHighCount         int    `json:"z_index_high_count"`
	PointerEventsNoneCount  int    `json:"pointer_events_none_count"`
	UntrustedIframeCount    int    `json:"untrusted_iframe_count"`
	ClickMismatch           Bit    `json:"click_mismatch"`
	ParentDomainWhitelisted Bit    `json:"parent_domain_whitelisted"`
	URL                     string `json:"url"`
}
