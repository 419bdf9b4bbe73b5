package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

func TestMergeAddsAndOverwritesNeverRemoves(t *testing.T) {
	s := New()
	s.Merge(wire.WidgetsData{"w1": {"text": "hello"}, "w2": {"count": 0}})
	changed := s.Merge(wire.WidgetsData{"w2": {"count": 1}, "w3": {"on": true}})

	assert.Equal(t, []string{"w2", "w3"}, changed)
	assert.Equal(t, wire.WidgetsData{
		"w1": {"text": "hello"},
		"w2": {"count": 1},
		"w3": {"on": true},
	}, s.Snapshot())
}

func TestMergeIsIdempotent(t *testing.T) {
	delta := wire.WidgetsData{"w1": {"text": "a"}, "w2": {"n": 2}}

	once := New()
	once.Merge(wire.WidgetsData{"w0": {"x": 1}})
	once.Merge(delta)

	twice := New()
	twice.Merge(wire.WidgetsData{"w0": {"x": 1}})
	twice.Merge(delta)
	twice.Merge(delta)

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestMergeSequenceEqualsCombinedDelta(t *testing.T) {
	m1 := wire.WidgetsData{"a": {"v": 1}, "b": {"v": 1}}
	m2 := wire.WidgetsData{"b": {"v": 2}, "c": {"v": 2}}
	combined := wire.WidgetsData{"a": {"v": 1}, "b": {"v": 2}, "c": {"v": 2}}
	seed := wire.WidgetsData{"z": {"v": 0}, "a": {"v": 0}}

	seq := New()
	seq.Merge(seed)
	seq.Merge(m1)
	seq.Merge(m2)

	one := New()
	one.Merge(seed)
	one.Merge(combined)

	assert.Equal(t, one.Snapshot(), seq.Snapshot())
}

func TestMergeCopiesInput(t *testing.T) {
	s := New()
	delta := wire.WidgetsData{"w1": {"text": "hello"}}
	s.Merge(delta)
	delta["w1"]["text"] = "mutated"

	got, ok := s.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "hello", got["text"])

	got["text"] = "also mutated"
	again, _ := s.Get("w1")
	assert.Equal(t, "hello", again["text"])
}

func TestKeySubscriptionOnlyFiresForItsKey(t *testing.T) {
	s := New()
	var w1, w2 int
	unsub := s.Subscribe("w1", func() { w1++ })
	s.Subscribe("w2", func() { w2++ })

	s.Merge(wire.WidgetsData{"w1": {"a": 1}})
	s.Merge(wire.WidgetsData{"w3": {"a": 1}})
	assert.Equal(t, 1, w1)
	assert.Equal(t, 0, w2)

	unsub()
	s.Merge(wire.WidgetsData{"w1": {"a": 2}, "w2": {"a": 2}})
	assert.Equal(t, 1, w1)
	assert.Equal(t, 1, w2)
	assert.Equal(t, 0, s.Subscribers("w1"))
}

func TestSubscriberMayReadDuringNotification(t *testing.T) {
	s := New()
	var seen wire.Fields
	s.Subscribe("w1", func() { seen, _ = s.Get("w1") })
	s.Merge(wire.WidgetsData{"w1": {"text": "hi"}})
	assert.Equal(t, wire.Fields{"text": "hi"}, seen)
}

func TestSubscribeAll(t *testing.T) {
	s := New()
	var got [][]string
	unsub := s.SubscribeAll(func(changed []string) { got = append(got, changed) })
	s.Merge(wire.WidgetsData{"b": {}, "a": {}})
	s.Merge(nil)
	unsub()
	s.Merge(wire.WidgetsData{"c": {}})
	assert.Equal(t, [][]string{{"a", "b"}}, got)
}

func TestConcurrentDisjointMerges(t *testing.T) {
	s := New()
	wg := new(sync.WaitGroup)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Merge(wire.WidgetsData{"w1": {"n": i}})
		}(i)
		go func(i int) {
			defer wg.Done()
			s.Merge(wire.WidgetsData{"w3": {"n": i}})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 2, s.Len())
}

func TestSealDropsLaterMerges(t *testing.T) {
	s := New()
	notified := 0
	s.Subscribe("w1", func() { notified++ })
	s.Merge(wire.WidgetsData{"w1": {"v": 1}})
	s.Seal()

	assert.Nil(t, s.Merge(wire.WidgetsData{"w1": {"v": 2}, "w2": {"v": 2}}))
	got, ok := s.Get("w1")
	require.True(t, ok)
	assert.Equal(t, wire.Fields{"v": 1}, got)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, notified)
}
