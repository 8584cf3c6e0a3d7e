/*
Package codec produces canonical, deterministic byte representations of
documents for hashing and failure logs.

Replication decisions (skip, overwrite, verification pass/fail) compare a
source document against its target copy. Raw BSON bytes are not a reliable
comparison basis: field order can differ after an upsert round-trip and
numeric wire sizes can change. The codec instead renders every document into
a canonical JSON form and compares 128-bit MD5 hashes of that form.

# Canonical Form

  - Keys sorted lexicographically at every nesting level
  - ObjectID   -> 24-char lowercase hex string
  - DateTime   -> RFC 3339 UTC string (nanosecond precision, "Z")
  - Decimal128 -> decimal string
  - Binary     -> lowercase hex of the payload
  - Timestamp  -> {"i":...,"t":...}
  - Arrays keep their order; strings are JSON-escaped; numbers use the
    shortest decimal form; null/undefined render as null
  - Anything exotic falls back to its extended JSON form

Two documents that differ only in field order or in BSON integer width
produce identical canonical bytes. The form is for equivalence testing
only; it is not parseable back into BSON and MD5 here is not a security
boundary.

# Id and Watermark Helpers

Checkpoint files persist ids and watermarks as strings. FormatID/ParseID
round-trip a document id through its canonical string form (ObjectID hex
or raw string), and FormatTime/ParseTime do the same for timestamps. A
checkpoint written by one run is revived by the next with the original
query semantics intact.

# Usage

	srcHash, err := codec.Hash(srcDoc)
	tgtHash, err := codec.Hash(tgtDoc)
	if srcHash == tgtHash {
		// copies are equivalent, skip
	}

	cp.LastID = codec.FormatID(doc.Lookup("_id"))
	filter := bson.M{"_id": bson.M{"$gt": codec.ParseID(cp.LastID)}}
*/
package codec
