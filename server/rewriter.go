package server

import (
	"bytes"
	"sort"

	"github.com/glromeo/esnext-web-modules/internal/specifier"
)

type importSpan struct {
	start int
	end   int
	url   string
}

// rewriteImports splices the urls resolved while bundling in place of the bare specifiers
// imported by the chunk. Chunks that can't be parsed are returned unchanged.
func rewriteImports(filename string, code []byte, resolved map[string]string) []byte {
	if len(resolved) == 0 {
		return code
	}
	tree, ok := parseJS(filename, string(code))
	if !ok {
		log.Warnf("rewrite imports of '%s': parse error", filename)
		return code
	}

	spans := make([]importSpan, 0, len(tree.ImportRecords))
	for _, record := range tree.ImportRecords {
		spec := record.Path.Text
		if !specifier.IsBare(spec) {
			continue
		}
		url, ok := resolved[spec]
		if !ok {
			continue
		}
		start := int(record.Range.Loc.Start)
		end := start + int(record.Range.Len)
		if start < 0 || end > len(code) || end-start < 2 {
			continue
		}
		// the range covers the quotes of the string literal
		quote := code[start]
		if (quote != '"' && quote != '\'' && quote != '`') || code[end-1] != quote {
			continue
		}
		if string(code[start+1:end-1]) != spec {
			continue
		}
		spans = append(spans, importSpan{start: start + 1, end: end - 1, url: url})
	}
	if len(spans) == 0 {
		return code
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})

	buf := bytes.NewBuffer(make([]byte, 0, len(code)+len(spans)*32))
	offset := 0
	for _, span := range spans {
		if span.start < offset {
			continue
		}
		buf.Write(code[offset:span.start])
		buf.WriteString(span.url)
		offset = span.end
	}
	buf.Write(code[offset:])
	return buf.Bytes()
}
