package mcp

// SearchInput is the input of the search tool.
type SearchInput struct {
	Model  string `json:"model" jsonschema:"the model to search, e.g. Article"`
	Query  string `json:"query" jsonschema:"the query, in field:term syntax or plain terms"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of records, default 10"`
	Offset int    `json:"offset,omitempty" jsonschema:"number of records to skip"`
}

// MultiSearchInput is the input of the multi_search tool.
type MultiSearchInput struct {
	Models []string `json:"models" jsonschema:"the models to search together"`
	Query  string   `json:"query" jsonschema:"the query"`
	Limit  int      `json:"limit,omitempty" jsonschema:"maximum number of records, default 10"`
	Offset int      `json:"offset,omitempty" jsonschema:"number of records to skip"`
}

// SearchOutput lists matched records.
type SearchOutput struct {
	Total   int            `json:"total" jsonschema:"number of matches before paging"`
	Records []RecordOutput `json:"records" jsonschema:"the matched records, best first"`
}

// RecordOutput is one matched record with its indexed fields.
type RecordOutput struct {
	Model  string            `json:"model"`
	ID     string            `json:"id"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields,omitempty"`
}

// HighlightInput is the input of the highlight tool.
type HighlightInput struct {
	Model       string `json:"model" jsonschema:"the record's model"`
	ID          string `json:"id" jsonschema:"the record id"`
	Query       string `json:"query" jsonschema:"the query whose terms are highlighted"`
	Field       string `json:"field,omitempty" jsonschema:"restrict excerpts to one stored field"`
	NumExcerpts int    `json:"num_excerpts,omitempty" jsonschema:"maximum excerpts returned, default 2"`
}

// HighlightOutput holds the excerpts.
type HighlightOutput struct {
	Excerpts []string `json:"excerpts"`
}

// TotalHitsInput is the input of the total_hits tool.
type TotalHitsInput struct {
	Model string `json:"model" jsonschema:"the model to count in"`
	Query string `json:"query" jsonschema:"the query"`
}

// TotalHitsOutput holds the count.
type TotalHitsOutput struct {
	Count int `json:"count"`
}

// IndexStatusInput optionally restricts status to one model's index.
type IndexStatusInput struct {
	Model string `json:"model,omitempty" jsonschema:"only report the index of this model"`
}

// IndexStatusOutput lists index states.
type IndexStatusOutput struct {
	Indexes []IndexInfo `json:"indexes"`
}

// IndexInfo describes one index.
type IndexInfo struct {
	Name     string   `json:"name"`
	State    string   `json:"state"`
	DocCount int      `json:"doc_count"`
	Models   []string `json:"models"`
	Remote   string   `json:"remote,omitempty"`
}
