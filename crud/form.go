package crud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// isoFormat matches the millisecond UTC form the backend parses
const isoFormat = "2006-01-02T15:04:05.000Z"

// File is a binary field value. Its presence anywhere in a payload switches
// Save to a multipart body.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// OpenFile reads path into a File named after its base name
func OpenFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &File{Name: filepath.Base(path), Data: b}, nil
}

var (
	fileType = reflect.TypeOf(File{})
	timeType = reflect.TypeOf(time.Time{})
)

// ContainsFile reports whether v holds a *File or File at any depth
func ContainsFile(v any) bool {
	return containsFile(reflect.ValueOf(v))
}

func containsFile(rv reflect.Value) bool {
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return false
		}
		return containsFile(rv.Elem())
	case reflect.Struct:
		return rv.Type() == fileType
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			if containsFile(rv.MapIndex(k)) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if containsFile(rv.Index(i)) {
				return true
			}
		}
	}
	return false
}

// EncodeMultipart writes payload as multipart/form-data using bracket key
// paths such as parent[child][0]. It returns the body and content type.
func EncodeMultipart(payload Payload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := appendForm(w, "", reflect.ValueOf(map[string]any(payload))); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func childKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "[" + key + "]"
}

func appendForm(w *multipart.Writer, key string, rv reflect.Value) error {
	if !rv.IsValid() {
		return writeField(w, key, "")
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return writeField(w, key, "")
		}
		return appendForm(w, key, rv.Elem())
	case reflect.Struct:
		switch rv.Type() {
		case fileType:
			f := rv.Interface().(File)
			return writeFile(w, key, f)
		case timeType:
			return writeField(w, key, rv.Interface().(time.Time).UTC().Format(isoFormat))
		}
		// other structs go through their JSON form
		m, err := toMap(rv.Interface())
		if err != nil {
			return err
		}
		return appendForm(w, key, reflect.ValueOf(m))
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		byName := map[string]reflect.Value{}
		for _, k := range rv.MapKeys() {
			name := fmt.Sprint(k.Interface())
			keys = append(keys, name)
			byName[name] = rv.MapIndex(k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := appendForm(w, childKey(key, k), byName[k]); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return writeField(w, key, string(rv.Bytes()))
		}
		for i := 0; i < rv.Len(); i++ {
			if err := appendForm(w, childKey(key, strconv.Itoa(i)), rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}
	if key == "" {
		return nil
	}
	return writeField(w, key, fmt.Sprint(rv.Interface()))
}

func writeField(w *multipart.Writer, key, value string) error {
	if key == "" {
		return nil
	}
	return w.WriteField(key, value)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(w *multipart.Writer, key string, f File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(key), quoteEscaper.Replace(f.Name)))
	ctype := f.ContentType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h.Set("Content-Type", ctype)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
