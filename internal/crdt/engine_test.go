package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHydrateEmptyDocument(t *testing.T) {
	s, err := Hydrate(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "", s.Text())
	require.Equal(t, 0, s.Len())
}

func TestInsertAndDeleteConverge(t *testing.T) {
	gen := NewGenerator("alice")

	var ops []Op
	var zero ID
	h := gen.Insert(zero, 'H')
	ops = append(ops, h)
	e := gen.Insert(h.ID, 'e')
	ops = append(ops, e)
	l1 := gen.Insert(e.ID, 'l')
	ops = append(ops, l1)
	l2 := gen.Insert(l1.ID, 'l')
	ops = append(ops, l2)
	o := gen.Insert(l2.ID, 'o')
	ops = append(ops, o)

	update, err := EncodeOps(ops)
	require.NoError(t, err)

	s := NewState()
	require.NoError(t, Merge(s, update))
	require.Equal(t, "Hello", s.Text())

	del := gen.Delete(l2.ID)
	delUpdate, err := EncodeOps([]Op{del})
	require.NoError(t, err)
	require.NoError(t, Merge(s, delUpdate))
	require.Equal(t, "Helo", s.Text())
}

// TestConcurrentInsertsConverge covers two-client convergence: two actors
// insert at the same origin concurrently; regardless of delivery order,
// both converge to the same text.
func TestConcurrentInsertsConverge(t *testing.T) {
	var zero ID
	a := NewGenerator("alice")
	b := NewGenerator("bob")

	// 'H' from alice, inserted at the document head.
	aOps := []Op{
		a.Insert(zero, 'H'),
	}
	// ' ' from bob, inserted concurrently at the same origin (head).
	bOps := []Op{
		b.Insert(zero, ' '),
	}

	s1 := NewState()
	require.NoError(t, Merge(s1, mustEncode(t, append(append([]Op{}, aOps...), bOps...))))

	s2 := NewState()
	require.NoError(t, Merge(s2, mustEncode(t, append(append([]Op{}, bOps...), aOps...))))

	require.Equal(t, s1.Text(), s2.Text(), "state must converge regardless of application order")
}

func TestMergeIdempotent(t *testing.T) {
	gen := NewGenerator("alice")
	var zero ID
	op := gen.Insert(zero, 'x')
	update := mustEncode(t, []Op{op})

	s := NewState()
	require.NoError(t, Merge(s, update))
	require.NoError(t, Merge(s, update)) // redelivery
	require.Equal(t, "x", s.Text())
	require.Equal(t, 1, s.Len())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	gen := NewGenerator("alice")
	var zero ID
	h := gen.Insert(zero, 'a')
	i := gen.Insert(h.ID, 'b')

	s := NewState()
	require.NoError(t, Merge(s, mustEncode(t, []Op{h, i})))

	encoded, err := Encode(s)
	require.NoError(t, err)

	replay, err := Hydrate(encoded, nil)
	require.NoError(t, err)
	require.Equal(t, s.Text(), replay.Text())
}

func TestDiffProducesOnlyNewOps(t *testing.T) {
	gen := NewGenerator("alice")
	var zero ID
	h := gen.Insert(zero, 'a')

	s := NewState()
	require.NoError(t, Merge(s, mustEncode(t, []Op{h})))
	since := s.Clock()

	i := gen.Insert(h.ID, 'b')
	require.NoError(t, Merge(s, mustEncode(t, []Op{i})))

	diff, err := Diff(s, since)
	require.NoError(t, err)

	ops, err := decodeOps(diff)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, i.ID, ops[0].ID)
}

// TestCompactionEquivalence checks compaction equivalence: hydrating from
// a fresh snapshot of the current state plus an empty log must equal
// hydrating from the original snapshot plus the full log.
func TestCompactionEquivalence(t *testing.T) {
	gen := NewGenerator("alice")
	var zero ID
	ops := []Op{gen.Insert(zero, 'a')}
	ops = append(ops, gen.Insert(ops[0].ID, 'b'))
	ops = append(ops, gen.Insert(ops[1].ID, 'c'))

	original := NewState()
	for _, op := range ops {
		original.Apply(op)
	}

	compactedBytes, err := Encode(original)
	require.NoError(t, err)
	compacted, err := Hydrate(compactedBytes, nil)
	require.NoError(t, err)

	require.Equal(t, original.Text(), compacted.Text())
}

// TestDeleteIdempotentAtLogLevel covers the case a delete op is delivered
// twice (e.g. a client retry after a dropped ack): the visible text and
// clock converge either way, but the log must not grow on the duplicate,
// or repeated redelivery would bloat every future encode/snapshot.
func TestDeleteIdempotentAtLogLevel(t *testing.T) {
	gen := NewGenerator("alice")
	var zero ID
	h := gen.Insert(zero, 'a')

	s := NewState()
	require.NoError(t, Merge(s, mustEncode(t, []Op{h})))

	del := gen.Delete(h.ID)
	delUpdate := mustEncode(t, []Op{del})
	require.NoError(t, Merge(s, delUpdate))
	require.Equal(t, "", s.Text())
	lenAfterFirst := s.Len()

	require.NoError(t, Merge(s, delUpdate)) // redelivery of the same delete
	require.Equal(t, "", s.Text())
	require.Equal(t, lenAfterFirst, s.Len(), "redelivered delete must not grow the log")
}

// TestInterleavingsConverge checks merge commutativity over every
// delivery order that preserves each actor's own op order (the order the
// log store guarantees per session): all interleavings of two concurrent
// editing streams must produce the same text.
func TestInterleavingsConverge(t *testing.T) {
	var zero ID
	a := NewGenerator("alice")
	aOps := []Op{a.Insert(zero, 'a')}
	aOps = append(aOps, a.Insert(aOps[0].ID, 'b'))
	aOps = append(aOps, a.Insert(aOps[1].ID, 'c'))

	b := NewGenerator("bob")
	bOps := []Op{b.Insert(zero, 'x')}
	bOps = append(bOps, b.Insert(bOps[0].ID, 'y'))

	var reference string
	for _, order := range interleavings(aOps, bOps) {
		s := NewState()
		for _, op := range order {
			s.Apply(op)
		}
		if reference == "" {
			reference = s.Text()
			continue
		}
		require.Equal(t, reference, s.Text(), "all interleavings must converge")
	}
}

// interleavings enumerates every merge order of xs and ys that keeps each
// slice's internal order.
func interleavings(xs, ys []Op) [][]Op {
	if len(xs) == 0 {
		return [][]Op{append([]Op{}, ys...)}
	}
	if len(ys) == 0 {
		return [][]Op{append([]Op{}, xs...)}
	}
	var out [][]Op
	for _, rest := range interleavings(xs[1:], ys) {
		out = append(out, append([]Op{xs[0]}, rest...))
	}
	for _, rest := range interleavings(xs, ys[1:]) {
		out = append(out, append([]Op{ys[0]}, rest...))
	}
	return out
}

func mustEncode(t *testing.T, ops []Op) []byte {
	t.Helper()
	b, err := EncodeOps(ops)
	require.NoError(t, err)
	return b
}
