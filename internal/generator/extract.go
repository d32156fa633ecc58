package generator

import "errors"

// ErrNoImage is returned when no strategy finds an image URL in a result.
var ErrNoImage = errors.New("no image in result")

// strategy pulls a URL out of one known result shape.
type strategy func(result any) (string, bool)

// path walks object keys; an int step indexes into an array.
func path(steps ...any) strategy {
	return func(result any) (string, bool) {
		cur := result
		for _, step := range steps {
			switch s := step.(type) {
			case string:
				m, ok := cur.(map[string]any)
				if !ok {
					return "", false
				}
				if cur, ok = m[s]; !ok {
					return "", false
				}
			case int:
				a, ok := cur.([]any)
				if !ok || s >= len(a) {
					return "", false
				}
				cur = a[s]
			}
		}
		str, ok := cur.(string)
		return str, ok && str != ""
	}
}

// strategies are tried in order; the first non-empty string wins.
var strategies = []strategy{
	path("output", "image", "url"),
	path("output", "image", 0, "url"),
	path("output", "image", 0),
	path("image", 0, "url"),
	path("image", 0),
	path("image", "url"),
	path("image"),
	path("url"),
	path(),
}

// ExtractImageURL finds the generated image URL in a workflow result.
func ExtractImageURL(result any) (string, error) {
	if result == nil {
		return "", ErrNoImage
	}
	for _, s := range strategies {
		if url, ok := s(result); ok {
			return url, nil
		}
	}
	return "", ErrNoImage
}
