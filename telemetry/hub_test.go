package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type recordingSink struct {
	got []Delta
	err error
}

func (s *recordingSink) PublishDelta(d Delta) error {
	s.got = append(s.got, d)
	return s.err
}

func TestThrottle(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	th := NewThrottle(time.Minute, clk.now)

	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
	clk.t = clk.t.Add(59 * time.Second)
	assert.False(t, th.Allow())
	clk.t = clk.t.Add(time.Second)
	assert.True(t, th.Allow())

	zero := NewThrottle(0, clk.now)
	assert.True(t, zero.Allow())
	assert.True(t, zero.Allow())
}

func TestHubDeliversFilteredValues(t *testing.T) {
	h := NewHub()
	var got []Delta
	unsub, err := h.Subscribe(SelfContext, PathPosition, 0, func(d Delta) { got = append(got, d) })
	require.NoError(t, err)

	h.Inject(NewDelta(SelfContext, time.Now(),
		PathValue{Path: PathPosition, Value: Position{Latitude: 1, Longitude: 2}},
		PathValue{Path: PathNavState, Value: "sailing"},
	))
	h.Inject(NewDelta(StationContext("N0CALL"), time.Now(),
		PathValue{Path: PathPosition, Value: Position{}},
	))
	h.Inject(NewDelta(SelfContext, time.Now(), PathValue{Path: PathNavState, Value: "anchored"}))

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Len())
	v, ok := got[0].Lookup(PathPosition)
	require.True(t, ok)
	assert.Equal(t, Position{Latitude: 1, Longitude: 2}, v)

	unsub()
	unsub()
	assert.Equal(t, 0, h.Subscriptions())
	h.Inject(NewDelta(SelfContext, time.Now(), PathValue{Path: PathPosition, Value: Position{}}))
	assert.Len(t, got, 1)
}

func TestHubThrottlesPerSubscription(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	h := NewHub()
	h.SetClock(clk.now)

	var n int
	_, err := h.Subscribe(SelfContext, PathPosition, 15*time.Minute, func(Delta) { n++ })
	require.NoError(t, err)

	d := NewDelta(SelfContext, clk.t, PathValue{Path: PathPosition, Value: Position{}})
	h.Inject(d)
	h.Inject(d)
	clk.t = clk.t.Add(15 * time.Minute)
	h.Inject(d)
	assert.Equal(t, 2, n)
}

func TestHubPublishReachesSinksAndSubscribers(t *testing.T) {
	h := NewHub()
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("down")}
	h.AddSink(good)
	h.AddSink(bad)

	var local int
	_, err := h.Subscribe(StationContext("N0CALL"), PathTemperature, 0, func(Delta) { local++ })
	require.NoError(t, err)

	err = h.Publish(NewDelta(StationContext("N0CALL"), time.Now(), PathValue{Path: PathTemperature, Value: 273.15}))
	assert.Error(t, err)
	assert.Len(t, good.got, 1)
	assert.Len(t, bad.got, 1)
	assert.Equal(t, 1, local)
}

func TestSubscribeValidation(t *testing.T) {
	h := NewHub()
	_, err := h.Subscribe(SelfContext, PathPosition, 0, nil)
	assert.Error(t, err)
	_, err = h.Subscribe(SelfContext, "", 0, func(Delta) {})
	assert.Error(t, err)
}

func TestPositionFrom(t *testing.T) {
	want := Position{Latitude: 45.5, Longitude: -122.75}

	p, ok := PositionFrom(want)
	assert.True(t, ok)
	assert.Equal(t, want, p)

	p, ok = PositionFrom(&want)
	assert.True(t, ok)
	assert.Equal(t, want, p)

	var generic any
	require.NoError(t, json.Unmarshal([]byte(`{"latitude":45.5,"longitude":-122.75}`), &generic))
	p, ok = PositionFrom(generic)
	assert.True(t, ok)
	assert.Equal(t, want, p)

	_, ok = PositionFrom(map[string]any{"latitude": 1.0})
	assert.False(t, ok)
	_, ok = PositionFrom("nope")
	assert.False(t, ok)
}

func TestDeltaJSONShape(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := json.Marshal(NewDelta(SelfContext, ts, PathValue{Path: PathName, Value: "Aurora"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"context":"vessels.self","updates":[{"$source":"aprsgate","timestamp":"2026-01-01T00:00:00Z","values":[{"path":"name","value":"Aurora"}]}]}`, string(b))
}
