package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Normalize serializes v to a deterministic JSON-like string.
// Map keys are sorted recursively, slice order is preserved. It never fails:
// values encoding/json cannot handle are rendered with %v and quoted.
func Normalize(v any) string {
	var sb strings.Builder
	writeNormalized(&sb, reflect.ValueOf(v))
	return sb.String()
}

func writeNormalized(sb *strings.Builder, rv reflect.Value) {
	if !rv.IsValid() {
		sb.WriteString("null")
		return
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			sb.WriteString("null")
			return
		}
		// json.Marshaler types (time.Time behind a pointer, json.RawMessage...)
		if _, ok := rv.Interface().(json.Marshaler); ok && rv.Kind() == reflect.Pointer {
			writeJSON(sb, rv.Interface())
			return
		}
		writeNormalized(sb, rv.Elem())
	case reflect.Map:
		if rv.IsNil() {
			sb.WriteString("null")
			return
		}
		keys := make([]string, 0, rv.Len())
		values := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			ks := mapKey(k)
			keys = append(keys, ks)
			values[ks] = rv.MapIndex(k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeNormalized(sb, values[k])
		}
		sb.WriteByte('}')
	case reflect.Slice:
		if rv.IsNil() {
			sb.WriteString("null")
			return
		}
		// []byte marshals as base64 like encoding/json
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			writeJSON(sb, rv.Interface())
			return
		}
		writeSeq(sb, rv)
	case reflect.Array:
		writeSeq(sb, rv)
	default:
		writeJSON(sb, rv.Interface())
	}
}

func writeSeq(sb *strings.Builder, rv reflect.Value) {
	sb.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeNormalized(sb, rv.Index(i))
	}
	sb.WriteByte(']')
}

func writeJSON(sb *strings.Builder, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		sb.WriteString(strconv.Quote(fmt.Sprintf("%v", v)))
		return
	}
	sb.Write(b)
}

func mapKey(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

// RequestKey builds the identity key for a request: endpoint, path,
// normalized params and the caller's credential, so identical requests made
// under different tokens never share an envelope.
func RequestKey(r Request) string {
	return r.BaseURL + r.Path + "::" + Normalize(r.Params) + "::" + r.Authorization
}

// fileName turns a request key into a file-safe name
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "req_" + hex.EncodeToString(sum[:16]) + ".json"
}
