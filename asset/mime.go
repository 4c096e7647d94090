package asset

const defaultContentType = "text/html"

var contentTypes = map[string]string{
	".htm":  "text/html",
	".html": "text/html",
	".php":  "text/html",
	".css":  "text/css",
}

// ContentType returns the MIME type for the extension of path.
// Unknown extensions, and paths without one, resolve to text/html.
func ContentType(path string) string {
	if contentType, found := contentTypes[extension(path)]; found {
		return contentType
	}
	return defaultContentType
}

// extension returns path from its last '.' on, or "" when there is none.
func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
