package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err      error
	complete bool
}

func (t *fakeToken) Wait() bool                     { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.complete {
		close(ch)
	}
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	msgs  []published
	token *fakeToken
}

func (c *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func TestMQTTSender_Topic(t *testing.T) {
	s := NewMQTTSender(nil, "/argus/", 1)
	assert.Equal(t, "argus/locations/global", s.Topic(GlobalChannel))
	assert.Equal(t, "argus/locations/event/42/department/5", s.Topic("locations:event:42:department:5"))

	bare := NewMQTTSender(nil, "", 0)
	assert.Equal(t, "locations/event/42", bare.Topic("locations:event:42"))
}

func TestMQTTSender_Send(t *testing.T) {
	client := &fakeMQTT{token: &fakeToken{complete: true}}
	s := NewMQTTSender(client, "argus", 1)

	require.NoError(t, NewPublisher(s).Publish(context.Background(), testUpdate(), nil))

	require.Len(t, client.msgs, 2)
	assert.Equal(t, "argus/locations/global", client.msgs[0].topic)
	assert.Equal(t, "argus/locations/event/42", client.msgs[1].topic)
	assert.Equal(t, byte(1), client.msgs[1].qos)

	var env Envelope
	require.NoError(t, json.Unmarshal(client.msgs[0].payload, &env))
	assert.Equal(t, GlobalChannel, env.Channel)
}

func TestMQTTSender_Errors(t *testing.T) {
	pubErr := errors.New("not connected")
	s := NewMQTTSender(&fakeMQTT{token: &fakeToken{complete: true, err: pubErr}}, "argus", 0)
	assert.ErrorIs(t, s.Send(context.Background(), GlobalChannel, nil, 1), pubErr)

	s = NewMQTTSender(&fakeMQTT{token: &fakeToken{}}, "argus", 0)
	assert.ErrorContains(t, s.Send(context.Background(), GlobalChannel, nil, 1), "timed out")
}
