package memory

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var errInvalidID = errors.New("ERR Invalid stream ID specified as stream command argument")

// streamID is the <ms>-<seq> identifier of a stream entry
type streamID struct {
	ms  uint64
	seq uint64
}

var (
	minID = streamID{}
	maxID = streamID{ms: math.MaxUint64, seq: math.MaxUint64}
)

func (id streamID) String() string {
	return strconv.FormatUint(id.ms, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func (id streamID) less(other streamID) bool {
	if id.ms != other.ms {
		return id.ms < other.ms
	}
	return id.seq < other.seq
}

func (id streamID) isZero() bool {
	return id == minID
}

// parseID parses "ms-seq", "ms" and the range markers "-" and "+".
// A bare "ms" gets defaultSeq as its sequence number.
func parseID(s string, defaultSeq uint64) (streamID, error) {
	switch s {
	case "-":
		return minID, nil
	case "+":
		return maxID, nil
	}

	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return streamID{}, errInvalidID
	}
	if !hasSeq {
		return streamID{ms: ms, seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return streamID{}, errInvalidID
	}
	return streamID{ms: ms, seq: seq}, nil
}
