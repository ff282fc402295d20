package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	delay  time.Duration
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, e Event) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcher_FansOutAndStamps(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(time.Second, a, nil, b)

	d.Emit(context.Background(), Event{Type: EventMessageCreated, MessageID: 7})
	d.Wait()

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
	assert.NotEmpty(t, a.events[0].ID)
	assert.False(t, a.events[0].OccurredAt.IsZero())
}

func TestDispatcher_SinkFailureIsSwallowed(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	d := NewDispatcher(time.Second, failing, ok)

	d.Emit(context.Background(), Event{Type: EventLinkAdded})
	d.Wait()
	assert.Equal(t, 1, ok.count())
}

func TestDispatcher_SlowSinkBoundedByTimeout(t *testing.T) {
	slow := &recordingSink{delay: time.Second}
	d := NewDispatcher(20*time.Millisecond, slow)

	start := time.Now()
	d.Emit(context.Background(), Event{Type: EventMessageDeleted})
	d.Wait()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, slow.count())
}

func TestDispatcher_DetachedFromRequestContext(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(time.Second, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{Type: EventMessageCreated})
	d.Wait()
	assert.Equal(t, 1, sink.count())
}

func TestRedisSink_PushesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sink := NewRedisSink(rdb, "messaging:events", 2)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, sink.Send(ctx, Event{Type: EventMessageCreated, MessageID: i, TenantID: "t1"}))
	}

	items, err := rdb.LRange(ctx, "messaging:events", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest Event
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, int64(3), newest.MessageID)
	assert.NoError(t, sink.Ping(ctx))
}

func TestNewKafkaSink_NoBrokers(t *testing.T) {
	assert.Nil(t, NewKafkaSink(nil, "x"))
}

type fakeSES struct {
	mu     sync.Mutex
	sent   []*sesv2.SendEmailInput
	failTo string
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Destination.ToAddresses[0] == f.failTo {
		return nil, errors.New("rejected")
	}
	f.sent = append(f.sent, in)
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESSink_RendersAndSends(t *testing.T) {
	api := &fakeSES{}
	sink, err := NewSESSink(api, "noreply@example.com", "https://app.example.com/")
	require.NoError(t, err)

	err = sink.Send(context.Background(), Event{
		Type:       EventMessageCreated,
		MessageID:  42,
		TenantID:   "t1",
		Actor:      "a@x.com",
		Subject:    "Quarterly numbers",
		Recipients: []string{"b@x.com", "c@x.com"},
		OccurredAt: time.Now(),
		Data:       map[string]any{"priority": "urgent", "attachment_count": 2, "attachment_bytes": int64(2048)},
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 2)

	msg := api.sent[0].Content.Simple
	assert.Equal(t, "[URGENT] New message from a@x.com: Quarterly numbers", *msg.Subject.Data)
	assert.Contains(t, *msg.Body.Html.Data, "https://app.example.com/messages/42")
	assert.Contains(t, *msg.Body.Html.Data, "2 attachments (2.0 kB)")
}

func TestSESSink_IgnoresOtherEvents(t *testing.T) {
	api := &fakeSES{}
	sink, err := NewSESSink(api, "noreply@example.com", "")
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), Event{Type: EventLinkAdded, Recipients: []string{"b@x.com"}}))
	assert.Empty(t, api.sent)
}

func TestSESSink_PartialFailure(t *testing.T) {
	api := &fakeSES{failTo: "c@x.com"}
	sink, err := NewSESSink(api, "noreply@example.com", "")
	require.NoError(t, err)

	err = sink.Send(context.Background(), Event{Type: EventMessageCreated, Recipients: []string{"b@x.com", "c@x.com"}, Data: map[string]any{"priority": "normal"}})
	assert.Error(t, err)
	assert.Len(t, api.sent, 1)
}
