package poll

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// watermarkField is the document field carrying the semantic last-modified
// time. Collections without it are polled in id order instead.
const watermarkField = "updatedAt"

const fieldID = "_id"

// fieldProbe records what a one-document sample of the source revealed
// about the last-modified field: whether it exists at all, and whether it
// holds native datetimes or strings. The value representation must match
// the field's BSON type or range queries silently match nothing.
type fieldProbe struct {
	present   bool
	timeTyped bool
}

// watermark is the polling position within one collection: the field that
// orders the scan and the highest value already applied. A nil value means
// no position yet, so the filter matches everything.
type watermark struct {
	field string
	value interface{}
}

// newWatermark revives a persisted checkpoint into a query position.
func newWatermark(cp *types.PollingCheckpoint, probe fieldProbe) *watermark {
	if !probe.present {
		wm := &watermark{field: fieldID}
		if cp != nil && cp.LastOperationTime != "" {
			wm.value = codec.ParseID(cp.LastOperationTime)
		}
		return wm
	}

	wm := &watermark{field: watermarkField}
	if cp == nil || cp.LastUpdatedAt == "" {
		return wm
	}
	if probe.timeTyped {
		if t, err := codec.ParseTime(cp.LastUpdatedAt); err == nil {
			wm.value = t
			return wm
		}
	}
	wm.value = cp.LastUpdatedAt
	return wm
}

// filter returns the query matching documents past the watermark.
func (wm *watermark) filter() bson.M {
	if wm.value == nil {
		return bson.M{}
	}
	return bson.M{wm.field: bson.M{"$gt": wm.value}}
}

// sort returns the ascending sort on the watermark field.
func (wm *watermark) sort() bson.D {
	return bson.D{{Key: wm.field, Value: 1}}
}

// advance moves the watermark past the newest document of an applied
// batch, keeping the value in the same representation the field uses so
// the next query still matches.
func (wm *watermark) advance(doc bson.Raw) error {
	if wm.field == fieldID {
		wm.value = codec.ParseID(codec.FormatID(doc.Lookup(fieldID)))
		return nil
	}

	v, ok := lookupValue(doc, wm.field)
	if !ok {
		return fmt.Errorf("document %s has no %s field, cannot advance watermark", codec.FormatID(doc.Lookup(fieldID)), wm.field)
	}
	switch v.Type {
	case bsontype.DateTime:
		wm.value = v.Time().UTC()
	case bsontype.String:
		wm.value = v.StringValue()
	default:
		return fmt.Errorf("document %s holds %s of type %s, cannot advance watermark", codec.FormatID(doc.Lookup(fieldID)), wm.field, v.Type)
	}
	return nil
}

// checkpoint renders the watermark into its durable string fields. Counter
// fields are left zero for the caller to fill before saving.
func (wm *watermark) checkpoint() *types.PollingCheckpoint {
	cp := &types.PollingCheckpoint{}
	switch v := wm.value.(type) {
	case time.Time:
		cp.LastUpdatedAt = codec.FormatTime(v)
	case primitive.ObjectID:
		cp.LastOperationTime = v.Hex()
	case string:
		if wm.field == fieldID {
			cp.LastOperationTime = v
		} else {
			cp.LastUpdatedAt = v
		}
	}
	return cp
}

// newerThan reports whether src is a strictly later timestamp than tgt.
// Values that both parse as times compare chronologically; otherwise the
// string forms compare lexicographically, which preserves chronological
// order for the canonical RFC 3339 encoding.
func newerThan(src, tgt bson.RawValue) bool {
	srcTime, srcOK := timeOf(src)
	tgtTime, tgtOK := timeOf(tgt)
	if srcOK && tgtOK {
		return srcTime.After(tgtTime)
	}
	return timeString(src) > timeString(tgt)
}

func timeOf(v bson.RawValue) (time.Time, bool) {
	switch v.Type {
	case bsontype.DateTime:
		return v.Time(), true
	case bsontype.String:
		t, err := codec.ParseTime(v.StringValue())
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// timeString renders a timestamp value for the lexicographic fallback.
func timeString(v bson.RawValue) string {
	switch v.Type {
	case bsontype.DateTime:
		return codec.FormatTime(v.Time())
	case bsontype.String:
		return v.StringValue()
	default:
		return v.String()
	}
}

// lookupValue fetches a top-level field, reporting whether it exists.
func lookupValue(doc bson.Raw, field string) (bson.RawValue, bool) {
	v, err := doc.LookupErr(field)
	if err != nil {
		return bson.RawValue{}, false
	}
	return v, true
}
