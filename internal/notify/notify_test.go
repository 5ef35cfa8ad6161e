package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"rwaadmin/internal/approval"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []approval.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, _ approval.Recipients, e approval.Event) error {
	r.events = append(r.events, e)
	return r.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() approval.Event {
	return approval.Event{
		Type:        "approval.completed",
		RequestID:   "req-1",
		ActionClass: "PHASE:DRAFT->DILIGENCE",
		Status:      approval.StatusCompleted,
		Approvers:   []string{"u1", "u2"},
		At:          time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("sink down")
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: boom}
	f := Fanout{bad, nil, ok}

	err := f.Notify(context.Background(), approval.Recipients{All: true}, sampleEvent())
	require.ErrorIs(t, err, boom)
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)

	assert.NoError(t, Fanout{ok}.Notify(context.Background(), approval.Recipients{}, sampleEvent()))
}

func TestRedisPublisher_PublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "approvals", "approvals.approval.completed")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub, err := NewRedisPublisher(client, " approvals ")
	require.NoError(t, err)
	require.NoError(t, pub.Notify(ctx, approval.Recipients{Roles: []string{"COMPLIANCE"}}, sampleEvent()))

	channels := map[string]Message{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var m Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &m))
		channels[msg.Channel] = m
	}
	require.Contains(t, channels, "approvals")
	require.Contains(t, channels, "approvals.approval.completed")
	got := channels["approvals"]
	assert.Equal(t, []string{"COMPLIANCE"}, got.Recipients.Roles)
	assert.Equal(t, "req-1", got.Event.RequestID)
	assert.Equal(t, approval.StatusCompleted, got.Event.Status)
}

func TestRedisPublisher_DefaultsAndErrors(t *testing.T) {
	_, err := NewRedisPublisher(nil, "x")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	pub, err := NewRedisPublisher(client, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultRedisChannel, pub.channel)

	mr.Close()
	assert.Error(t, pub.Notify(context.Background(), approval.Recipients{}, sampleEvent()))
}

func TestNewKafkaPublisher_Validates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", ""}, Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "  "})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" localhost:9092 "}, Topic: "approvals"})
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "approvals", w.Topic)
}

func TestKafkaPublisher_KeysByRequest(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Notify(context.Background(), approval.Recipients{Roles: []string{"SIGNER"}}, sampleEvent()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "req-1", string(msg.Key))
	assert.Equal(t, "approval.completed", string(msg.Headers[0].Value))

	var m Message
	require.NoError(t, json.Unmarshal(msg.Value, &m))
	assert.Equal(t, []string{"SIGNER"}, m.Recipients.Roles)
	assert.Equal(t, []string{"u1", "u2"}, m.Event.Approvers)

	w.err = errors.New("leader not available")
	assert.ErrorContains(t, p.Notify(context.Background(), approval.Recipients{}, sampleEvent()), "leader not available")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
