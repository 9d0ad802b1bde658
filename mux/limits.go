package mux

// Limits bounds the size of envelope frames
type Limits struct {
	MaxFrame int `yaml:"max_frame"`
}

// DefaultLimits returns the default envelope limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame: DefaultMaxFrame,
	}
}
