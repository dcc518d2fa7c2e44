package logstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ZeroCursor is the canonical "beginning of stream" sentinel.
const ZeroCursor = "0-0"

// ErrBadCursor is returned for cursor tokens that are not "<seq>-<idx>".
var ErrBadCursor = errors.New("malformed cursor")

// ParseCursor splits a "<seq>-<idx>" token into its numeric parts.
// The grammar matches Redis stream ids so cursors survive a backend swap.
func ParseCursor(cursor string) (seq, idx uint64, err error) {
	seqPart, idxPart, ok := strings.Cut(cursor, "-")
	if !ok {
		return 0, 0, ErrBadCursor
	}
	seq, err = strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, 0, ErrBadCursor
	}
	idx, err = strconv.ParseUint(idxPart, 10, 64)
	if err != nil {
		return 0, 0, ErrBadCursor
	}
	return seq, idx, nil
}

func FormatCursor(seq, idx uint64) string {
	return fmt.Sprintf("%d-%d", seq, idx)
}
