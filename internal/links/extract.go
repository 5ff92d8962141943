package links

// Extract pulls both link kinds out of one page's raw content. Each list
// is de-duplicated preserving first-seen order. Links are returned as
// found; callers normalize.
func Extract(content string) (secondary, primary []string) {
	if content == "" {
		return []string{}, []string{}
	}
	return Unique(twimg.FindAll(content)), Unique(gofile.FindAll(content))
}
