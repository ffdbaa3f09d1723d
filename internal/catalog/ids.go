package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultChunkSize is the number of ids requested per catalog call.
const DefaultChunkSize = 20

// trailingIDPattern matches URLs whose last path segment is an integer id.
var trailingIDPattern = regexp.MustCompile(`/(\d+)$`)

// ExtractIDFromURL returns the trailing integer id of a catalog URL such as
// "https://rickandmortyapi.com/api/location/3". ok is false for blank input,
// for strings without a trailing numeric segment and for ids that overflow int.
func ExtractIDFromURL(url string) (id int, ok bool) {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0, false
	}
	m := trailingIDPattern.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// ExtractIDsFromURLs resolves every URL with ExtractIDFromURL, dropping the
// ones that do not resolve.
func ExtractIDsFromURLs(urls []string) []int {
	ids := make([]int, 0, len(urls))
	for _, u := range urls {
		if id, ok := ExtractIDFromURL(u); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// NormalizeIDs drops non-positive ids and duplicates, keeping first-seen order.
func NormalizeIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []int, size int) [][]int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// joinIDs renders ids the way the catalog expects them in a path: "1,2,3".
func joinIDs(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}
