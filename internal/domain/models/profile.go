package models

// VolumeProfile is a read-only statistical snapshot of a candle window.
type VolumeProfile struct {
	Lookback    int     `json:"lookback"`
	BucketWidth float64 `json:"bucket_width"`

	POC  float64 `json:"poc"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`

	Band1Low  float64 `json:"band1_low"`
	Band1High float64 `json:"band1_high"`
	Band2Low  float64 `json:"band2_low"`
	Band2High float64 `json:"band2_high"`

	Drift            float64 `json:"drift_pct"`
	Skewness         float64 `json:"skewness"`
	Kurtosis         float64 `json:"kurtosis"`
	ValueAreaShare   float64 `json:"value_area_share"`
	DevelopmentScore float64 `json:"development_score"`
	Developed        bool    `json:"developed"`
}
