package anthropic

import "strings"

// cacheTTL keeps a step's system prompt warm across a bulk run.
const cacheTTL = "1h"

// CachedSystem returns the system blocks for a call. The shared prompt is
// marked as a cache breakpoint; extra blocks follow it uncached, so
// per-entity text never invalidates the cached prefix. Blank extras are
// dropped.
func CachedSystem(shared string, extra ...string) []SystemBlock {
	blocks := []SystemBlock{{Text: shared, CacheControl: &CacheControl{TTL: cacheTTL}}}
	for _, e := range extra {
		if strings.TrimSpace(e) != "" {
			blocks = append(blocks, SystemBlock{Text: e})
		}
	}
	return blocks
}
