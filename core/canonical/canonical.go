// Copyright (C) 2025 oesp-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package canonical implements the deterministic JSON serialization
// that both the AEAD's associated data and the envelope signature are
// computed over. Every caller in this module — pack, unpack, verify —
// must go through this single routine; any divergence silently
// invalidates every signature.
package canonical

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSON serializes v (a struct, map, or any json.Marshal-able value)
// into canonical bytes: object keys in lexicographic codepoint order,
// compact separators, UTF-8, non-ASCII left unescaped, numbers emitted
// exactly as received. Keys listed in exclude are dropped from every
// object in the tree, not just the top level.
func JSON(v interface{}, exclude ...string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	excludeSet := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		excludeSet[k] = struct{}{}
	}
	filtered := prune(decoded, excludeSet)

	var buf bytes.Buffer
	if err := encodeValue(&buf, filtered); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// prune returns a copy of v with every key in exclude removed from
// every object level, recursing through arrays.
func prune(v interface{}, exclude map[string]struct{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if _, skip := exclude[k]; skip {
				continue
			}
			out[k] = prune(val, exclude)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = prune(val, exclude)
		}
		return out
	default:
		return t
	}
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(string(t))
	case string:
		encodeString(buf, t)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
	return nil
}

// encodeString writes s as a compact JSON string with HTML-unsafe
// escaping disabled, so printable non-ASCII code points pass through
// as UTF-8 rather than \u-escapes.
func encodeString(buf *bytes.Buffer, s string) {
	var sub bytes.Buffer
	enc := json.NewEncoder(&sub)
	enc.SetEscapeHTML(false)
	// Encode never fails on a plain string.
	_ = enc.Encode(s)
	buf.Write(bytes.TrimRight(sub.Bytes(), "\n"))
}

// EncodeB64 encodes data as unpadded base64url.
func EncodeB64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeB64 decodes an unpadded (or padded) base64url string.
func DecodeB64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
