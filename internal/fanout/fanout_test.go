package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

type sent struct {
	channel string
	events  []string
	payload any
}

type fakeSender struct {
	mu    sync.Mutex
	sends []sent
	fail  map[string]error
}

func (s *fakeSender) Send(_ context.Context, channel string, events []string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sent{channel: channel, events: events, payload: payload})
	return s.fail[channel]
}

func testUpdate() location.Update {
	return location.Update{
		EntityID:   7,
		EntityType: location.EntityUser,
		EventID:    42,
		CompanyID:  3,
		Latitude:   "1.0",
		Longitude:  "2.0",
		Requester:  location.Requester{ID: 7, Name: "Dana"},
		UpdatedAt:  time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
}

func TestAddress_String(t *testing.T) {
	dept := int64(5)
	assert.Equal(t, "locations:global", GlobalAddress().String())
	assert.Equal(t, "locations:event:42", EventAddress(42, nil).String())
	assert.Equal(t, "locations:event:42:department:5", EventAddress(42, &dept).String())
}

func TestParseAddress(t *testing.T) {
	for _, ch := range []string{"locations:global", "locations:event:42", "locations:event:42:department:5"} {
		addr, err := ParseAddress(ch)
		require.NoError(t, err, ch)
		assert.Equal(t, ch, addr.String())
	}

	for _, ch := range []string{"", "locations", "locations:event:x", "locations:event:0", "locations:event:1:team:2", "locations:event:1:department:", "other:event:1"} {
		_, err := ParseAddress(ch)
		assert.Error(t, err, ch)
	}
}

func TestPublisher_WithDepartment(t *testing.T) {
	s := &fakeSender{}
	dept := int64(5)

	require.NoError(t, NewPublisher(s).Publish(context.Background(), testUpdate(), &dept))

	require.Len(t, s.sends, 2)
	assert.Equal(t, GlobalChannel, s.sends[0].channel)
	assert.Equal(t, "locations:event:42:department:5", s.sends[1].channel)
	for _, snd := range s.sends {
		assert.Equal(t, []string{EventLocationUpdated}, snd.events)
	}
}

func TestPublisher_WithoutDepartment(t *testing.T) {
	s := &fakeSender{}

	require.NoError(t, NewPublisher(s).Publish(context.Background(), testUpdate(), nil))

	require.Len(t, s.sends, 2)
	assert.Equal(t, GlobalChannel, s.sends[0].channel)
	assert.Equal(t, "locations:event:42", s.sends[1].channel)
}

func TestPublisher_PayloadVerbosity(t *testing.T) {
	s := &fakeSender{}
	require.NoError(t, NewPublisher(s).Publish(context.Background(), testUpdate(), nil))

	global, err := json.Marshal(s.sends[0].payload)
	require.NoError(t, err)
	var g map[string]any
	require.NoError(t, json.Unmarshal(global, &g))
	assert.ElementsMatch(t, []string{"latitude", "longitude", "event_id", "entity_id", "updated_at"}, keys(g))

	scoped, err := json.Marshal(s.sends[1].payload)
	require.NoError(t, err)
	var sc map[string]any
	require.NoError(t, json.Unmarshal(scoped, &sc))
	assert.Contains(t, sc, "requester")
	assert.Contains(t, sc, "latitude")
	assert.Equal(t, "Dana", sc["requester"].(map[string]any)["name"])
}

func TestPublisher_AttemptsBothSendsOnFailure(t *testing.T) {
	globalErr := errors.New("global down")
	s := &fakeSender{fail: map[string]error{GlobalChannel: globalErr}}

	err := NewPublisher(s).Publish(context.Background(), testUpdate(), nil)

	assert.ErrorIs(t, err, globalErr)
	assert.Len(t, s.sends, 2)
}

func TestMultiSender(t *testing.T) {
	a := &fakeSender{}
	bErr := errors.New("b down")
	b := &fakeSender{fail: map[string]error{"ch": bErr}}

	err := MultiSender{a, b}.Send(context.Background(), "ch", nil, "x")

	assert.ErrorIs(t, err, bErr)
	assert.Len(t, a.sends, 1)
	assert.Len(t, b.sends, 1)
	assert.NoError(t, MultiSender{a}.Send(context.Background(), "ch", nil, "x"))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
