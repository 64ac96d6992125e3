// Package stream implements the Stream Ingestor: it opens camera feeds
// and emits Frames at a fixed per-feed cadence, isolating one feed's
// transport failure from the rest.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	core "github.com/ringlogic/fightcore/internal/core/service"
	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/logger"
	"github.com/ringlogic/fightcore/pkg/metrics"
)

// TransportKind identifies how a feed's frames are obtained.
type TransportKind string

const (
	TransportRTSP TransportKind = "rtsp"
	TransportFile TransportKind = "file"
	TransportTest TransportKind = "test"
)

// FrameSink receives every frame emitted by an active feed.
type FrameSink func(model.Frame)

// FrameSource fetches the next frame payload for a feed. Implementations
// abstract over the actual transport (RTSP client, file reader, test
// stub); a transport error return marks the feed inactive.
type FrameSource func(ctx context.Context) ([]byte, error)

// feedState is the per-feed mutable state described in §4.1: a running
// FPS estimate, dropped-frame counter, total frames, last-frame
// timestamp, and active flag.
type feedState struct {
	mu sync.RWMutex

	boutID        string
	cameraID      string
	transport     TransportKind
	source        FrameSource
	fps           float64
	limiter       *rate.Limiter
	emaAlpha      float64
	droppedFrames uint64
	totalFrames   uint64
	lastFrameMS   int64
	active        bool

	cancel context.CancelFunc
}

// Ingestor manages N camera feeds, emitting a Frame roughly every
// 1/FPS seconds per feed to the registered sink.
type Ingestor struct {
	mu    sync.RWMutex
	feeds map[string]*feedState
	sink  FrameSink
	log   *logger.Logger

	wg sync.WaitGroup
}

// New builds an Ingestor. log may be nil; a default logger is used.
func New(log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.NewDefault("ingest.stream")
	}
	return &Ingestor{
		feeds: make(map[string]*feedState),
		log:   log,
	}
}

// Descriptor advertises this component's placement for documentation
// and composition-root wiring.
func (i *Ingestor) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "stream-ingestor",
		Domain: "ingest",
		Layer:  core.LayerIngest,
	}.WithCapabilities("frame-emission", "feed-management")
}

// Name satisfies system.Service.
func (i *Ingestor) Name() string { return "stream-ingestor" }

// Start satisfies system.Service. The ingestor has no standalone
// lifecycle beyond per-feed goroutines started by AddStream, so Start
// is a no-op that exists to satisfy the interface uniformly.
func (i *Ingestor) Start(ctx context.Context) error { return nil }

// Stop removes every active feed, stopping all per-feed emission loops.
func (i *Ingestor) Stop(ctx context.Context) error {
	i.mu.Lock()
	ids := make([]string, 0, len(i.feeds))
	for id := range i.feeds {
		ids = append(ids, id)
	}
	i.mu.Unlock()

	for _, id := range ids {
		i.RemoveStream(id)
	}
	i.wg.Wait()
	return nil
}

// SetCallback registers the downstream sink called once per emitted frame.
func (i *Ingestor) SetCallback(sink FrameSink) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sink = sink
}

// AddStream registers a new feed and starts its fixed-cadence emission
// loop. fps controls the target emission rate; source is polled once
// per tick.
func (i *Ingestor) AddStream(boutID, cameraID string, transport TransportKind, fps float64, source FrameSource) error {
	if boutID == "" {
		return fcerrors.MalformedInput("bout_id", "missing")
	}
	if cameraID == "" {
		return fcerrors.MalformedInput("camera_id", "missing")
	}
	if fps <= 0 {
		fps = 30
	}

	key := feedKey(boutID, cameraID)

	i.mu.Lock()
	if _, exists := i.feeds[key]; exists {
		i.mu.Unlock()
		return fcerrors.New(fcerrors.ErrCodeMalformedInput, "feed already registered").WithDetails("feed_id", key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fs := &feedState{
		boutID:    boutID,
		cameraID:  cameraID,
		transport: transport,
		source:    source,
		fps:       fps,
		limiter:   rate.NewLimiter(rate.Limit(fps), 1),
		emaAlpha:  0.1,
		active:    true,
		cancel:    cancel,
	}
	i.feeds[key] = fs
	i.mu.Unlock()

	i.wg.Add(1)
	go i.runFeed(ctx, key, fs)
	return nil
}

// RemoveStream stops emission for a feed and releases its resources.
func (i *Ingestor) RemoveStream(feedID string) {
	i.mu.Lock()
	fs, ok := i.feeds[feedID]
	if ok {
		delete(i.feeds, feedID)
	}
	i.mu.Unlock()

	if ok && fs.cancel != nil {
		fs.cancel()
	}
}

// FeedStats is a read-only snapshot of one feed's running state.
type FeedStats struct {
	FeedID        string
	FPS           float64
	DroppedFrames uint64
	TotalFrames   uint64
	LastFrameMS   int64
	Active        bool
}

// Stats returns a snapshot of every currently-registered feed.
func (i *Ingestor) Stats() []FeedStats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]FeedStats, 0, len(i.feeds))
	for id, fs := range i.feeds {
		fs.mu.RLock()
		out = append(out, FeedStats{
			FeedID:        id,
			FPS:           fs.fps,
			DroppedFrames: fs.droppedFrames,
			TotalFrames:   fs.totalFrames,
			LastFrameMS:   fs.lastFrameMS,
			Active:        fs.active,
		})
		fs.mu.RUnlock()
	}
	return out
}

func (i *Ingestor) runFeed(ctx context.Context, feedID string, fs *feedState) {
	defer i.wg.Done()

	for {
		if err := fs.limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		payload, err := fs.source(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			i.markInactive(fs, feedID, err)
			metrics.RecordFrameDropped(feedID)
			continue
		}

		elapsed := time.Since(start)
		i.recordEmission(fs, feedID, payload, elapsed)
	}
}

func (i *Ingestor) markInactive(fs *feedState, feedID string, err error) {
	fs.mu.Lock()
	fs.active = false
	fs.droppedFrames++
	fs.mu.Unlock()
	i.log.WithError(err).WithField("feed_id", feedID).Warn("feed transport error; marked inactive")
}

func (i *Ingestor) recordEmission(fs *feedState, feedID string, payload []byte, elapsed time.Duration) {
	now := time.Now().UnixMilli()
	instantaneousFPS := 1.0
	if elapsed > 0 {
		instantaneousFPS = 1.0 / elapsed.Seconds()
	}

	fs.mu.Lock()
	fs.active = true
	fs.totalFrames++
	fs.lastFrameMS = now
	fs.fps = fs.emaAlpha*instantaneousFPS + (1-fs.emaAlpha)*fs.fps
	boutID, cameraID := fs.boutID, fs.cameraID
	fs.mu.Unlock()

	metrics.RecordFrameIngested(feedID)

	i.mu.RLock()
	sink := i.sink
	i.mu.RUnlock()

	if sink != nil {
		sink(model.Frame{
			BoutID:      boutID,
			CameraID:    cameraID,
			TimestampMS: now,
			Payload:     payload,
		})
	}
}

func feedKey(boutID, cameraID string) string {
	return fmt.Sprintf("%s:%s", boutID, cameraID)
}
