package domain

// RetrievalDefaults holds the ranking limits applied when configuration leaves them unset.
type RetrievalDefaults struct {
	Threshold   float64
	DefaultTopK int
	MaxTopK     int
	Model       string
	Dimensions  int
}

// DefaultRetrieval returns the defaults tuned for text-embedding-3-small.
func DefaultRetrieval() RetrievalDefaults {
	return RetrievalDefaults{
		Threshold:   0.7,
		DefaultTopK: 5,
		MaxTopK:     50,
		Model:       "text-embedding-3-small",
		Dimensions:  1536,
	}
}
