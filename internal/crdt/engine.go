package crdt

import "encoding/json"

// Hydrate builds a State from an optional snapshot and an ordered sequence
// of update entries (as returned by the log store's readSince): create
// empty state, apply the snapshot if present, then each update in order.
func Hydrate(snapshot []byte, updates [][]byte) (*State, error) {
	s := NewState()
	if len(snapshot) > 0 {
		ops, err := decodeOps(snapshot)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			s.Apply(op)
		}
	}
	for _, u := range updates {
		ops, err := decodeOps(u)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			s.Apply(op)
		}
	}
	return s, nil
}

// Encode produces a full-state update that, applied to an empty state via
// Merge, yields an observationally equivalent state (including tombstones,
// which later concurrent inserts may still reference as an origin).
func Encode(s *State) ([]byte, error) {
	return encodeOps(s.log)
}

// Diff produces the minimal update that brings a peer at version vector
// `since` up to `state`.
func Diff(s *State, since map[string]uint64) ([]byte, error) {
	var out []Op
	for _, op := range s.log {
		if op.ID.Counter > since[op.ID.Actor] {
			out = append(out, op)
		}
	}
	return encodeOps(out)
}

// Merge applies an encoded update (one or more ops) to state in place.
func Merge(s *State, update []byte) error {
	ops, err := decodeOps(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		s.Apply(op)
	}
	return nil
}

func decodeOps(b []byte) ([]Op, error) {
	var ops []Op
	if err := json.Unmarshal(b, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func encodeOps(ops []Op) ([]byte, error) {
	if ops == nil {
		ops = []Op{}
	}
	return json.Marshal(ops)
}

// Generator produces monotonically increasing op ids for one actor. It is
// not part of the merge algebra itself (client code on the other side of
// the WebSocket owns id assignment); it exists so tests and local tooling
// can construct well-formed updates without duplicating counter bookkeeping.
type Generator struct {
	actor   string
	counter uint64
}

// NewGenerator returns a Generator for the given actor id.
func NewGenerator(actor string) *Generator {
	return &Generator{actor: actor}
}

func (g *Generator) next() ID {
	g.counter++
	return ID{Actor: g.actor, Counter: g.counter}
}

// Insert builds an insert Op for ch after origin (the zero ID means "at
// the head of the document").
func (g *Generator) Insert(origin ID, ch rune) Op {
	return Op{Kind: opInsert, ID: g.next(), Origin: origin, Char: string(ch)}
}

// Delete builds a delete Op tombstoning target.
func (g *Generator) Delete(target ID) Op {
	return Op{Kind: opDelete, ID: g.next(), Target: target}
}

// EncodeOps marshals a slice of Ops into an update suitable for Merge.
// Exposed for tests and tooling that build updates with Generator.
func EncodeOps(ops []Op) ([]byte, error) {
	return encodeOps(ops)
}
