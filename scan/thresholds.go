package scan

// Thresholds are the calibration points of the structural signals.
type Thresholds struct {
	// Opacity below which a frame counts as transparent. Default: 0.1.
	Opacity float64 `yaml:"opacity" json:"opacity"`
	// LargeAreaRatio is the share of the viewport area above which a frame
	// counts as oversized. Default: 0.5.
	LargeAreaRatio float64 `yaml:"large_area_ratio" json:"large_area_ratio"`
	// ZIndex above which a frame counts as stacked high. Default: 100.
	ZIndex float64 `yaml:"z_index" json:"z_index"`
}

// DefaultThresholds returns the stock calibration.
func DefaultThresholds() Thresholds {
	return Thresholds{Opacity: 0.1, LargeAreaRatio: 0.5, ZIndex: 100}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Opacity <= 0 {
		t.Opacity = d.Opacity
	}
	if t.LargeAreaRatio <= 0 {
		t.LargeAreaRatio = d.LargeAreaRatio
	}
	if t.ZIndex <= 0 {
		t.ZIndex = d.ZIndex
	}
	return t
}
