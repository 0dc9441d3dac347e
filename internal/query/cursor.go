package query

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

type cursor struct {
	Offset      int    `json:"o"`
	Fingerprint string `json:"f"`
}

var errMalformedCursor = errors.New("is malformed")

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, errMalformedCursor
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Offset < 0 {
		return cursor{}, errMalformedCursor
	}
	return c, nil
}

// fingerprint identifies the filter and sort shape a cursor was issued for.
func fingerprint(filters []Filter, keys []SortKey) string {
	var b strings.Builder
	for _, f := range filters {
		fmt.Fprintf(&b, "f|%s|%s|%v;", f.Field, f.Op, f.Value)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "s|%s|%s;", k.Field, k.Dir)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.String()))
	return fmt.Sprintf("%016x", h.Sum64())
}
