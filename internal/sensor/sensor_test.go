package sensor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

type MockNotifier struct {
	calls []string
}

func (m *MockNotifier) Send(title, message string) error {
	m.calls = append(m.calls, title)
	return nil
}

type fakeReader struct {
	values []float64
	errs   []error
	i      int
}

func (f *fakeReader) Read() (float64, error) {
	i := f.i
	f.i++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.values) {
		return f.values[i], nil
	}
	return f.values[len(f.values)-1], nil
}

func constant(v float64) Reader {
	return ReaderFunc(func() (float64, error) { return v, nil })
}

func TestSampleAppliesOffset(t *testing.T) {
	store, err := NewStore([]Sensor{
		{ID: model.Temperature, Lower: 36, Upper: 38, Offset: -0.5, Reader: constant(37.7)},
	}, 0, nil)
	require.NoError(t, err)

	v, err := store.Sample(model.Temperature)
	require.NoError(t, err)
	assert.InDelta(t, 37.2, v, 1e-9)

	latest, ok := store.Latest(model.Temperature)
	assert.True(t, ok)
	assert.InDelta(t, 37.2, latest, 1e-9)
	assert.False(t, store.Stale()[model.Temperature])
}

func TestSampleAllIsolatesFailures(t *testing.T) {
	skin := &fakeReader{values: []float64{36.5, 0}, errs: []error{nil, errors.New("math domain error")}}
	store, err := NewStore([]Sensor{
		{ID: model.SkinTemperature, Lower: 35, Upper: 38, Reader: skin},
		{ID: model.Humidity, Lower: 40, Upper: 70, Reader: &fakeReader{values: []float64{50, 55}}},
	}, 0, nil)
	require.NoError(t, err)

	require.Empty(t, store.SampleAll())

	errs := store.SampleAll()
	require.Len(t, errs, 1)

	var rf *ReadFailure
	require.True(t, errors.As(errs[0], &rf))
	assert.Equal(t, model.SkinTemperature, rf.Sensor)

	values := store.Values()
	assert.Equal(t, 36.5, values[model.SkinTemperature], "failed sensor keeps its previous value")
	assert.Equal(t, 55.0, values[model.Humidity], "other sensors are still sampled")
	assert.True(t, store.Stale()[model.SkinTemperature])
	assert.False(t, store.Stale()[model.Humidity])
}

func TestNonFiniteIsReadFailure(t *testing.T) {
	store, err := NewStore([]Sensor{
		{ID: model.O2Level, Lower: 19, Upper: 23, Reader: constant(math.NaN())},
	}, 0, nil)
	require.NoError(t, err)

	_, err = store.Sample(model.O2Level)
	var rf *ReadFailure
	assert.True(t, errors.As(err, &rf))
}

func TestDriverPanicIsReadFailure(t *testing.T) {
	store, err := NewStore([]Sensor{
		{ID: model.O2Level, Reader: ReaderFunc(func() (float64, error) { panic("bus fault") })},
	}, 0, nil)
	require.NoError(t, err)

	_, err = store.Sample(model.O2Level)
	var rf *ReadFailure
	require.True(t, errors.As(err, &rf))
	assert.Contains(t, err.Error(), "bus fault")
}

func TestFailureThresholdNotifiesOnce(t *testing.T) {
	boom := errors.New("no response")
	reader := &fakeReader{
		values: []float64{0, 0, 0, 0, 37},
		errs:   []error{boom, boom, boom, boom},
	}
	notifier := &MockNotifier{}
	store, err := NewStore([]Sensor{{ID: model.Temperature, Lower: 36, Upper: 38, Reader: reader}}, 3, notifier)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		store.SampleAll()
	}
	assert.Equal(t, []string{"Sensor failing"}, notifier.calls)

	store.SampleAll()
	assert.Equal(t, []string{"Sensor failing", "Sensor recovered"}, notifier.calls)
}

func TestNewStoreRejectsInvertedBounds(t *testing.T) {
	_, err := NewStore([]Sensor{{ID: model.Humidity, Lower: 80, Upper: 40, Reader: constant(1)}}, 0, nil)
	assert.Error(t, err)
}

func TestBounds(t *testing.T) {
	store, err := NewStore([]Sensor{{ID: model.Humidity, Lower: 40, Upper: 70, Reader: constant(1)}}, 0, nil)
	require.NoError(t, err)

	lo, hi, ok := store.Bounds(model.Humidity)
	assert.True(t, ok)
	assert.Equal(t, 40.0, lo)
	assert.Equal(t, 70.0, hi)

	_, _, ok = store.Bounds(model.O2Level)
	assert.False(t, ok)
}
