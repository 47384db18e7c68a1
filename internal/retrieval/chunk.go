package retrieval

// Chunk is a unit of retrievable filing text. Chunks are immutable once
// added to an Index.
type Chunk struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Source  string `json:"source"`
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// Hit is a Chunk returned by a similarity search.
type Hit struct {
	Chunk
	Score    float32 `json:"score"`
	Position int     `json:"position"`
}

// Texts returns the raw text of each hit, preserving order.
func Texts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}
