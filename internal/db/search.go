package db

// TagFilter restricts a search to documents whose tag field holds any of Values.
type TagFilter struct {
	Field  string
	Values []string
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // default "embedding"
	Vector       []float32
	K            int
	Tags         []TagFilter
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Score is cosine similarity (1 - distance).
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
