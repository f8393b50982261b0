package firehose

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/domain"
)

type memoryCursors struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func (m *memoryCursors) GetCursor(_ context.Context, service string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[service], nil
}

func (m *memoryCursors) UpdateCursor(_ context.Context, service string, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[service] = cursor
	return nil
}

type channelSink chan domain.Record

func (c channelSink) Write(_ context.Context, records ...domain.Record) error {
	for _, r := range records {
		c <- r
	}
	return nil
}

const (
	createEvent = `{"did":"did:plc:alice","time_us":2000,"kind":"commit","commit":{"rev":"r1","operation":"create","collection":"app.bsky.feed.post","rkey":"3lkizm6uvhc2b","cid":"bafyJ","record":{"$type":"app.bsky.feed.post","text":"hello #Firehose","createdAt":"2025-03-16T16:09:09.785Z","facets":[{"index":{"byteStart":6,"byteEnd":15},"features":[{"$type":"app.bsky.richtext.facet#tag","tag":"Firehose"}]}]}}}`
	deleteEvent = `{"did":"did:plc:alice","time_us":1000,"kind":"commit","commit":{"rev":"r0","operation":"delete","collection":"app.bsky.feed.post","rkey":"3kold"}}`
	badEvent    = `{"did":"did:plc:alice","time_us":1500,"kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":"3kbad","record":{"$type":"app.bsky.feed.post","text":"x","createdAt":"yesterday"}}}`
)

func newTestSubscriber(url string, sink domain.RecordSink, cursors *memoryCursors) *Subscriber {
	return NewSubscriber(url, cursors, sink, zap.NewNop(),
		WithCursorInterval(time.Millisecond),
		WithReconnectDelay(10*time.Millisecond))
}

func TestSubscriber_HandleMessage(t *testing.T) {
	t.Parallel()

	sink := make(channelSink, 1)
	s := newTestSubscriber("", sink, &memoryCursors{cursors: map[string]int64{}})

	ts, err := s.handleMessage(context.Background(), []byte(createEvent))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ts)

	post := <-sink
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3lkizm6uvhc2b", post["uri"])
	assert.Equal(t, []string{"firehose"}, post["collected_via"])
	assert.Equal(t, []string{"firehose"}, post["hashtags"])
	assert.Nil(t, post["like_count"])

	ts, err = s.handleMessage(context.Background(), []byte(deleteEvent))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)

	ts, err = s.handleMessage(context.Background(), []byte(badEvent))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), ts)
	assert.Equal(t, int64(1), s.stats.rejected)
	assert.Equal(t, int64(1), s.stats.posts)
	assert.Equal(t, int64(3), s.stats.commits)

	_, err = s.handleMessage(context.Background(), []byte(`{"kind":`))
	assert.Error(t, err)
}

func TestSubscriber_Start(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"app.bsky.feed.post"}, r.URL.Query()["wantedCollections"])
		assert.Equal(t, "500", r.URL.Query().Get("cursor"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, event := range []string{deleteEvent, createEvent} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cursors := &memoryCursors{cursors: map[string]int64{cursorServiceName: 500}}
	sink := make(channelSink, 1)
	s := newTestSubscriber("ws"+strings.TrimPrefix(srv.URL, "http"), sink, cursors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	select {
	case post := <-sink:
		assert.Equal(t, "3lkizm6uvhc2b", post["did"])
	case <-time.After(5 * time.Second):
		t.Fatal("no post received")
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}

	got, err := cursors.GetCursor(context.Background(), cursorServiceName)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got)
}

func TestNewSubscriber_DefaultURL(t *testing.T) {
	s := NewSubscriber("", &memoryCursors{}, make(channelSink), zap.NewNop())
	assert.Equal(t, DefaultURL, s.url)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "日本...", Preview("日本語のテキスト", 7))
}

type deletingSink struct {
	channelSink
	deleted []string
}

func (d *deletingSink) Delete(_ context.Context, key string) error {
	d.deleted = append(d.deleted, key)
	return nil
}

func TestSubscriber_HandleDelete(t *testing.T) {
	t.Parallel()

	sink := &deletingSink{channelSink: make(channelSink, 1)}
	s := newTestSubscriber("", sink, &memoryCursors{cursors: map[string]int64{}})

	ts, err := s.handleMessage(context.Background(), []byte(deleteEvent))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)
	assert.Equal(t, []string{"at://did:plc:alice/app.bsky.feed.post/3kold"}, sink.deleted)
	assert.Equal(t, int64(1), s.stats.deleted)
}
