package retrieval

import (
	"path"
	"sort"
	"strings"

	"github.com/vitalita/healthassist/internal/chunk"
)

// BuildCitations folds retrieved chunk metadata into a sources map keyed by
// display name. PDF sources get their sorted page numbers; web sources get
// an empty page list and a "Title (URL)" key.
func BuildCitations(metas []map[string]interface{}) map[string][]int {
	sources := map[string][]int{}
	pageSets := map[string]map[int]bool{}

	for _, meta := range metas {
		source, _ := meta["source"].(string)
		if source == "" {
			continue
		}
		sourceType, _ := meta["source_type"].(string)

		var key string
		switch chunk.SourceType(sourceType) {
		case chunk.SourceHTMLURL:
			title, _ := meta["title"].(string)
			if title != "" {
				key = title + " (" + source + ")"
			} else {
				key = source
			}
		default:
			// pdf and pdf_url sources cite the bare filename
			key = displayFilename(source)
		}

		if _, ok := sources[key]; !ok {
			sources[key] = []int{}
			pageSets[key] = map[int]bool{}
		}
		if page, ok := asInt(meta["page"]); ok && page > 0 && !pageSets[key][page] {
			pageSets[key][page] = true
			sources[key] = append(sources[key], page)
		}
	}

	for key := range sources {
		sort.Ints(sources[key])
	}
	return sources
}

// displayFilename strips any path components, treating backslashes as
// separators too so Windows-style names cite cleanly.
func displayFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name)
}

// asInt accepts the numeric types JSON decoding can produce.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}
