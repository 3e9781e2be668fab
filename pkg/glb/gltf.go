package glb

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"
)

const cesiumRTC = "CESIUM_RTC"

// 📍 RemoveCesiumRTC strips the CESIUM_RTC extension from a glTF 2.0 GLB and
// returns its center. A GLB without the extension is returned unchanged with
// a nil center.
func RemoveCesiumRTC(buf []byte) ([]byte, []float64, error) {
	g, err := Parse(buf)
	if err != nil {
		return nil, nil, err
	}
	if g.Version != 2 {
		return nil, nil, errors.Errorf("%w: CESIUM_RTC removal needs glTF 2.0, got %d", ErrInvalidGlb, g.Version)
	}

	dec := json.NewDecoder(bytes.NewReader(trimPadding(g.JSON)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, errors.Errorf("%w: decoding JSON chunk: %v", ErrInvalidGlb, err)
	}

	exts, _ := doc["extensions"].(map[string]any)
	rtc, ok := exts[cesiumRTC].(map[string]any)
	if !ok {
		return buf, nil, nil
	}

	var center []float64
	if values, ok := rtc["center"].([]any); ok {
		for _, v := range values {
			n, ok := v.(json.Number)
			if !ok {
				return nil, nil, errors.Errorf("%w: CESIUM_RTC center is not numeric", ErrInvalidGlb)
			}
			f, err := n.Float64()
			if err != nil {
				return nil, nil, errors.Errorf("%w: CESIUM_RTC center: %v", ErrInvalidGlb, err)
			}
			center = append(center, f)
		}
	}

	delete(exts, cesiumRTC)
	if len(exts) == 0 {
		delete(doc, "extensions")
	}
	for _, key := range []string{"extensionsUsed", "extensionsRequired"} {
		list, ok := doc[key].([]any)
		if !ok {
			continue
		}
		kept := list[:0]
		for _, name := range list {
			if name != cesiumRTC {
				kept = append(kept, name)
			}
		}
		if len(kept) == 0 {
			delete(doc, key)
		} else {
			doc[key] = kept
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, errors.Errorf("encoding JSON chunk: %w", err)
	}
	return Build(out, g.Binary), center, nil
}

// 🖼️ ExternalURIs lists the buffer and image URIs of a GLB that are neither
// embedded data URIs nor absolute URLs.
func ExternalURIs(buf []byte) ([]string, error) {
	doc, err := ExtractJSON(buf)
	if err != nil {
		return nil, err
	}
	var uris []string
	for _, key := range []string{"buffers", "images"} {
		var items []any
		switch v := doc[key].(type) {
		case []any:
			items = v
		case map[string]any:
			// glTF 1.0 keys these by id
			ids := make([]string, 0, len(v))
			for id := range v {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				items = append(items, v[id])
			}
		}
		for _, item := range items {
			obj, _ := item.(map[string]any)
			uri, _ := obj["uri"].(string)
			if uri == "" || strings.HasPrefix(uri, "data:") || strings.Contains(uri, "://") {
				continue
			}
			uris = append(uris, uri)
		}
	}
	return uris, nil
}
