package tileset

import (
	"net/url"
	"path"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// SkipChildren can be returned by a VisitFunc to prune the subtree below a tile
var SkipChildren = errors.Base("skip children")

// VisitFunc is called for every tile with its parent (nil for the root) and depth
type VisitFunc func(tile, parent *Tile, depth int) error

// 🚶 Walk visits the tile tree depth first, parents before children
func Walk(root *Tile, fn VisitFunc) error {
	return walk(root, nil, 0, fn)
}

func walk(tile, parent *Tile, depth int, fn VisitFunc) error {
	if tile == nil {
		return nil
	}
	if err := fn(tile, parent, depth); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	for _, child := range tile.Children {
		if err := walk(child, tile, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// AllContents returns the single content and the contents of a tile
func (t *Tile) AllContents() []*Content {
	var out []*Content
	if t.Content != nil {
		out = append(out, t.Content)
	}
	for _, c := range t.Contents {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// 🔗 ContentURIs lists every content reference of the tree in visit order.
// Template URIs of implicitly tiled tiles are included verbatim.
func (ts *Tileset) ContentURIs() []string {
	var uris []string
	Walk(ts.Root, func(tile, _ *Tile, _ int) error {
		for _, c := range tile.AllContents() {
			if ref := c.Ref(); ref != "" {
				uris = append(uris, ref)
			}
		}
		return nil
	})
	return uris
}

// ✏️ RewriteContentURIs replaces every content reference with fn(ref)
func (ts *Tileset) RewriteContentURIs(fn func(ref string) string) {
	Walk(ts.Root, func(tile, _ *Tile, _ int) error {
		for _, c := range tile.AllContents() {
			if ref := c.Ref(); ref != "" {
				c.SetRef(fn(ref))
			}
		}
		return nil
	})
}

// IsExternalTileset reports whether a content reference points at another
// tileset JSON
func IsExternalTileset(ref string) bool {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".json")
}

// IsRelative reports whether a reference names a key inside the package
func IsRelative(ref string) bool {
	if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "/") {
		return false
	}
	u, err := url.Parse(ref)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// 📍 ResolveKey resolves a reference found in the descriptor stored at
// baseKey into a package key. Query strings and fragments are dropped.
func ResolveKey(baseKey, ref string) (string, bool) {
	if !IsRelative(ref) {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	key := path.Clean(path.Join(path.Dir(baseKey), u.Path))
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", false
	}
	return key, true
}

// RelativeRef is the reference that a descriptor stored at baseKey uses for key
func RelativeRef(baseKey, key string) string {
	dir := path.Dir(baseKey)
	if dir == "." {
		return key
	}
	baseParts := strings.Split(dir, "/")
	keyParts := strings.Split(key, "/")
	i := 0
	for i < len(baseParts) && i < len(keyParts)-1 && baseParts[i] == keyParts[i] {
		i++
	}
	var out []string
	for range baseParts[i:] {
		out = append(out, "..")
	}
	out = append(out, keyParts[i:]...)
	return strings.Join(out, "/")
}
