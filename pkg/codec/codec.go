package codec

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Canonical returns the canonical byte representation of a document.
// The form is JSON with keys sorted lexicographically at every nesting
// level and fixed scalar encodings, so it is stable across runs and
// across source/target reads of the same document:
//
//   - object ids     -> 24-char lowercase hex string
//   - datetimes      -> RFC 3339 UTC string
//   - decimals       -> decimal string
//   - binary         -> lowercase hex of the payload
//
// doc may be bson.Raw or any bson-marshalable value (bson.M, bson.D,
// struct). The output is for hashing and failure logs, not for reparsing
// into BSON.
func Canonical(doc interface{}) ([]byte, error) {
	raw, err := toRaw(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeDocument(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the lowercase hex MD5 of the canonical bytes of doc.
// It is an equivalence check between source and target copies, not a
// security primitive.
func Hash(doc interface{}) (string, error) {
	canonical, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func toRaw(doc interface{}) (bson.Raw, error) {
	if doc == nil {
		return nil, fmt.Errorf("cannot canonicalize nil document")
	}
	if raw, ok := doc.(bson.Raw); ok {
		return raw, nil
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return bson.Raw(data), nil
}

func writeDocument(buf *bytes.Buffer, raw bson.Raw) error {
	elements, err := raw.Elements()
	if err != nil {
		return fmt.Errorf("malformed document: %w", err)
	}

	type field struct {
		key   string
		value bson.RawValue
	}
	fields := make([]field, 0, len(elements))
	for _, el := range elements {
		key, err := el.KeyErr()
		if err != nil {
			return fmt.Errorf("malformed element key: %w", err)
		}
		value, err := el.ValueErr()
		if err != nil {
			return fmt.Errorf("malformed element value for %q: %w", key, err)
		}
		fields = append(fields, field{key: key, value: value})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })

	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, f.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, f.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, raw bson.Raw) error {
	values, err := raw.Values()
	if err != nil {
		return fmt.Errorf("malformed array: %w", err)
	}

	buf.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeValue(buf *bytes.Buffer, v bson.RawValue) error {
	switch v.Type {
	case bsontype.EmbeddedDocument:
		return writeDocument(buf, v.Document())
	case bsontype.Array:
		return writeArray(buf, v.Array())
	case bsontype.ObjectID:
		return writeString(buf, v.ObjectID().Hex())
	case bsontype.DateTime:
		return writeString(buf, FormatTime(v.Time()))
	case bsontype.Decimal128:
		return writeString(buf, v.Decimal128().String())
	case bsontype.Binary:
		_, data := v.Binary()
		return writeString(buf, hex.EncodeToString(data))
	case bsontype.String:
		return writeString(buf, v.StringValue())
	case bsontype.Int32:
		buf.WriteString(strconv.FormatInt(int64(v.Int32()), 10))
	case bsontype.Int64:
		buf.WriteString(strconv.FormatInt(v.Int64(), 10))
	case bsontype.Double:
		buf.WriteString(strconv.FormatFloat(v.Double(), 'g', -1, 64))
	case bsontype.Boolean:
		buf.WriteString(strconv.FormatBool(v.Boolean()))
	case bsontype.Null, bsontype.Undefined:
		buf.WriteString("null")
	case bsontype.Timestamp:
		t, i := v.Timestamp()
		fmt.Fprintf(buf, `{"i":%d,"t":%d}`, i, t)
	case bsontype.Regex:
		pattern, options := v.Regex()
		buf.WriteByte('{')
		_ = writeString(buf, "options")
		buf.WriteByte(':')
		if err := writeString(buf, options); err != nil {
			return err
		}
		buf.WriteByte(',')
		_ = writeString(buf, "pattern")
		buf.WriteByte(':')
		if err := writeString(buf, pattern); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		// Exotic types (DBPointer, JavaScript, MinKey, MaxKey, ...) hash by
		// their extended JSON form. Deterministic, never an error.
		return writeString(buf, v.String())
	}
	return nil
}

// writeString writes s as a JSON-escaped quoted string.
func writeString(buf *bytes.Buffer, s string) error {
	escaped, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode string: %w", err)
	}
	buf.Write(escaped)
	return nil
}

// FormatTime renders a timestamp in the canonical RFC 3339 UTC form used
// for hashing and for checkpoint watermarks.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses the canonical timestamp form back into a time.Time.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatID renders a document id in its canonical string form for
// checkpoints and failure logs: object ids as hex, strings as-is,
// anything else via its default string form.
func FormatID(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case bson.RawValue:
		if v.Type == bsontype.ObjectID {
			return v.ObjectID().Hex()
		}
		if v.Type == bsontype.String {
			return v.StringValue()
		}
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseID revives a canonical id string into a query-usable value: a valid
// 24-char hex string becomes an ObjectID, anything else stays a string.
func ParseID(s string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return s
}
