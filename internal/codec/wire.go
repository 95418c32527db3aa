package codec

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// encoder appends protobuf wire fields. Zero values are omitted.
type encoder struct {
	b []byte
}

func (e *encoder) uint(n protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, n, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) amount(n protowire.Number, v domain.Amount) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, n, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeZigZag(int64(v)))
}

func (e *encoder) bool(n protowire.Number, v bool) {
	if v {
		e.uint(n, 1)
	}
}

func (e *encoder) str(n protowire.Number, s string) {
	if s == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, n, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

func (e *encoder) raw(n protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, n, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

// message always writes the field, so empty nested messages survive.
func (e *encoder) message(n protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, n, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) addr(n protowire.Number, a domain.Address) {
	if a == domain.ZeroAddr {
		return
	}
	e.raw(n, a.Bytes())
}

func (e *encoder) time(n protowire.Number, t time.Time) {
	if t.IsZero() {
		return
	}
	e.b = protowire.AppendTag(e.b, n, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeZigZag(t.UnixNano()))
}

// field is one decoded wire field. For varints V is set, for bytes B.
type field struct {
	Num protowire.Number
	Typ protowire.Type
	V   uint64
	B   []byte
}

func (f field) amount() domain.Amount { return domain.Amount(protowire.DecodeZigZag(f.V)) }

func (f field) time() time.Time {
	return time.Unix(0, protowire.DecodeZigZag(f.V)).UTC()
}

func (f field) addr() domain.Address { return common.BytesToAddress(f.B) }

func (f field) str() string { return string(f.B) }

// walk calls fn for every varint and bytes field of b. Other wire types are
// skipped so newer writers may add them.
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{Num: num, Typ: typ}
		switch typ {
		case protowire.VarintType:
			f.V, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.B, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
