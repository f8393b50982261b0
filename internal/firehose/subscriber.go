// Package firehose follows the Jetstream firehose and normalizes newly
// created posts as they are published.
package firehose

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-runewidth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/bluesky"
	"github.com/blackmichael/socialnorm/internal/domain"
)

const (
	// DefaultURL is a public Jetstream instance.
	DefaultURL = "wss://jetstream1.us-east.bsky.network/subscribe"

	// CollectionSource tags every record produced by the subscriber.
	CollectionSource = "firehose"

	cursorServiceName = "jetstream"
	previewWidth      = 60
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream.
var wantedCollections = []string{
	bluesky.CollectionPost,
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithCursorInterval sets how often the cursor is persisted. Non-positive
// values keep the default.
func WithCursorInterval(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.cursorInterval = d
		}
	}
}

// WithStatsInterval sets how often throughput stats are logged. Non-positive
// values keep the default.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.statsInterval = d
		}
	}
}

// WithReconnectDelay sets the backoff before reconnecting.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Subscriber) { s.reconnectDelay = d }
}

// WithNormalizeOptions passes opts to every NormalizePartialPost call.
func WithNormalizeOptions(opts ...domain.Option) Option {
	return func(s *Subscriber) { s.normalize = append(s.normalize, opts...) }
}

// Subscriber connects to the Jetstream firehose and normalizes post events.
type Subscriber struct {
	url     string
	cursors domain.CursorRepository
	sink    domain.RecordSink
	logger  *zap.Logger

	cursorInterval time.Duration
	statsInterval  time.Duration
	reconnectDelay time.Duration
	normalize      []domain.Option

	stats stats
}

type stats struct {
	events, commits, posts, rejected, deleted int64
}

// NewSubscriber creates a new firehose subscriber writing normalized posts to
// sink.
func NewSubscriber(
	firehoseURL string,
	cursors domain.CursorRepository,
	sink domain.RecordSink,
	logger *zap.Logger,
	opts ...Option,
) *Subscriber {
	if firehoseURL == "" {
		firehoseURL = DefaultURL
	}
	s := &Subscriber{
		url:            firehoseURL,
		cursors:        cursors,
		sink:           sink,
		logger:         logger,
		cursorInterval: 5 * time.Second,
		statsInterval:  30 * time.Second,
		reconnectDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.normalize = append(s.normalize,
		domain.WithCollectionSource(CollectionSource),
		domain.WithPure(false),
		domain.WithLogger(logger))
	return s
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("firehose connection error, reconnecting", zap.Error(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.reconnectDelay):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", eris.Wrapf(err, "firehose: parse url %s", s.url)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.cursors.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", zap.Error(err))
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to firehose", zap.String("url", wsURL))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return eris.Wrap(err, "firehose: dial")
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to firehose")

	latestCursor := cursor
	lastCursorSave := time.Now()
	lastStatsLog := time.Now()
	defer func() {
		if latestCursor > cursor {
			s.saveCursor(context.WithoutCancel(ctx), latestCursor)
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return eris.Wrap(err, "firehose: read message")
		}

		if ts, err := s.handleMessage(ctx, message); err != nil {
			s.logger.Error("failed to handle event", zap.Error(err))
		} else if ts > 0 {
			latestCursor = ts
		}

		if time.Since(lastStatsLog) >= s.statsInterval {
			s.logger.Info("firehose stats",
				zap.Int64("events_received", s.stats.events),
				zap.Int64("commits_received", s.stats.commits),
				zap.Int64("posts_normalized", s.stats.posts),
				zap.Int64("posts_rejected", s.stats.rejected),
				zap.Int64("posts_deleted", s.stats.deleted),
			)
			lastStatsLog = time.Now()
		}

		if time.Since(lastCursorSave) >= s.cursorInterval {
			if s.saveCursor(ctx, latestCursor) {
				lastCursorSave = time.Now()
			}
		}
	}
}

func (s *Subscriber) saveCursor(ctx context.Context, cursor int64) bool {
	if err := s.cursors.UpdateCursor(ctx, cursorServiceName, cursor); err != nil {
		s.logger.Error("failed to save cursor", zap.Error(err))
		return false
	}
	return true
}

// handleMessage processes one Jetstream message and returns its cursor.
// Payloads the normalizer rejects are logged and skipped.
func (s *Subscriber) handleMessage(ctx context.Context, message []byte) (int64, error) {
	event, err := parseEvent(message)
	if err != nil {
		return 0, err
	}
	s.stats.events++

	if event.Kind != "commit" {
		return event.TimeUS, nil
	}
	s.stats.commits++

	commit := event.Commit
	if commit.Collection != bluesky.CollectionPost {
		return event.TimeUS, nil
	}

	switch commit.Operation {
	case "create":
		if commit.Record == nil {
			return event.TimeUS, nil
		}
	case "delete":
		return event.TimeUS, s.handleDelete(ctx, bluesky.FormatPostURI(event.DID, commit.RKey))
	default:
		return event.TimeUS, nil
	}

	post, err := bluesky.NormalizePartialPost(event.payload(), s.normalize...)
	if err != nil {
		s.stats.rejected++
		s.logger.Warn("rejected firehose post",
			zap.String("did", event.DID),
			zap.String("rkey", commit.RKey),
			zap.Error(err))
		return event.TimeUS, nil
	}

	if err := s.sink.Write(ctx, post); err != nil {
		return 0, eris.Wrapf(err, "firehose: write %s", post.String("uri"))
	}
	s.stats.posts++

	s.logger.Debug("normalized post",
		zap.String("uri", post.String("uri")),
		zap.String("text_preview", Preview(post.String("text"), previewWidth)))
	return event.TimeUS, nil
}

func (s *Subscriber) handleDelete(ctx context.Context, uri string) error {
	deleter, ok := s.sink.(domain.RecordDeleter)
	if !ok {
		return nil
	}
	s.stats.deleted++
	return eris.Wrapf(deleter.Delete(ctx, uri), "firehose: delete %s", uri)
}

// Preview truncates s to width terminal columns.
func Preview(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}
