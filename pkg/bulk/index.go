package bulk

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// indexSpec is the subset of a listIndexes document needed to recreate the
// index on the target. Key order matters for compound indexes, so Key stays
// a bson.D.
type indexSpec struct {
	Name                    string   `bson:"name"`
	Key                     bson.D   `bson:"key"`
	Unique                  *bool    `bson:"unique,omitempty"`
	Sparse                  *bool    `bson:"sparse,omitempty"`
	ExpireAfterSeconds      *int32   `bson:"expireAfterSeconds,omitempty"`
	PartialFilterExpression bson.Raw `bson:"partialFilterExpression,omitempty"`
}

// model converts the listed spec into a creatable index model.
func (s indexSpec) model() mongo.IndexModel {
	opts := options.Index().SetName(s.Name)
	if s.Unique != nil {
		opts.SetUnique(*s.Unique)
	}
	if s.Sparse != nil {
		opts.SetSparse(*s.Sparse)
	}
	if s.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*s.ExpireAfterSeconds)
	}
	if len(s.PartialFilterExpression) > 0 {
		opts.SetPartialFilterExpression(s.PartialFilterExpression)
	}

	return mongo.IndexModel{
		Keys:    s.Key,
		Options: opts,
	}
}

// Index conflicts mean the target already carries an index under this name
// with a different spec. The copy proceeds; the verifier reports the drift.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

func isIndexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == codeIndexOptionsConflict || cmdErr.Code == codeIndexKeySpecsConflict
	}
	return false
}
