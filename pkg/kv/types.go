package kv

import (
	"github.com/redis/go-redis/v9"
)

// Reply types are the go-redis ones so that the redis backend can hand
// results through untouched.
type (
	XMessage      = redis.XMessage
	XStream       = redis.XStream
	XInfoGroup    = redis.XInfoGroup
	XInfoConsumer = redis.XInfoConsumer
	XPendingExt   = redis.XPendingExt
)

const (
	StreamAutoID          = "*"
	StreamNeverDelivered  = ">"
	StreamZeroID          = "0"
	StreamLastDeliveredID = "$"
	StreamRangeStart      = "-"
	StreamRangeEnd        = "+"
)

// FieldValue is one field/value pair of a stream entry.
type FieldValue struct {
	Field string
	Value string
}

// Pairs builds field/value pairs from a flat field, value, field, value list.
// A trailing field without a value is paired with the empty string.
func Pairs(kv ...string) []FieldValue {
	pairs := make([]FieldValue, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		p := FieldValue{Field: kv[i]}
		if i+1 < len(kv) {
			p.Value = kv[i+1]
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// Flatten returns the pairs as the field, value, ... argument list used on the wire.
func Flatten(pairs []FieldValue) []string {
	out := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, p.Field, p.Value)
	}
	return out
}
