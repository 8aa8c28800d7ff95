package index_sink

// tokenises bundle ids and paths on punctuation, but keeps fractional timestamps (.123456Z) whole
const bundleIDPattern = "[\\s,{}\\[\\]\";'+=%^$!~`|\\\\/?&]+|[.](?![0-9]{6,6}Z)"

// IndexSettings controls the body used when a day's index is created
type IndexSettings struct {
	Shards   int
	Replicas int
}

func DefaultIndexSettings() IndexSettings {
	return IndexSettings{Shards: 2, Replicas: 0}
}

func (s IndexSettings) body() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   s.Shards,
			"number_of_replicas": s.Replicas,
			"analysis": map[string]any{
				"analyzer": map[string]any{
					"default": map[string]any{
						"tokenizer": "bundle_id_tokenizer",
					},
				},
				"tokenizer": map[string]any{
					"bundle_id_tokenizer": map[string]any{
						"type":    "pattern",
						"pattern": bundleIDPattern,
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"@timestamp": map[string]any{
					"type": "date",
				},
				"@log_group": map[string]any{
					"type": "text",
					"fields": map[string]any{
						"keyword": map[string]any{"type": "keyword"},
					},
				},
			},
		},
	}
}
