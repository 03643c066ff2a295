// Package session drives one peripheral link through discovery, subscription,
// streaming and teardown, and turns its notification chunks into frames.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/frame"
	"github.com/srg/moodsip/internal/groutine"
	"github.com/srg/moodsip/internal/notify"
	"github.com/srg/moodsip/internal/ringchan"
)

// Default tuning.
const (
	DefaultWatchdogDeadline = 5 * time.Second
	DefaultAckTimeout       = 2 * time.Second
	DefaultEventQueue       = 64
	DefaultDeliveryQueue    = 4
	DefaultRawTailSize      = 512
)

// Observer-facing status texts.
const (
	msgScanning         = "Scanning for MoodSip devices..."
	msgReady            = "Connected to MoodSip Bottle - Ready to receive images!"
	msgServiceMissing   = "Connected but image service unavailable or notifications failed."
	msgDisconnected     = "MoodSip Bottle disconnected"
	msgNoDevice         = "No MoodSip device found. Make sure your bottle is powered on and in pairing mode."
	msgCancelled        = "Device selection cancelled"
	msgNoTransport      = "Bluetooth is not supported on this system"
	msgAdapterOff       = "Bluetooth not available. Please enable Bluetooth on your device."
	msgConnectFailed    = "Failed to connect to device GATT server"
	msgStall            = "No BLE notifications received yet. If the bottle sends a whole frame in one notification, it will fail. Consider chunking on the device or verify notifications."
	msgImageCharMissing = "Image characteristic not available"
	msgCmdCharMissing   = "Command characteristic not available"
	msgAckSent          = "ACK (1) sent to device"
	msgFrameSkipped     = "Frame analysis is falling behind, skipped frame %d"
)

// FrameConsumer receives every completed frame. It runs off the intake path;
// ctx is cancelled when the link is torn down.
type FrameConsumer func(ctx context.Context, f frame.Frame, meta frame.Geometry) error

// Options configures a Session. Zero values select the defaults.
type Options struct {
	// Filters selects peripherals. nil selects device.DefaultFilters; an empty
	// non-nil slice accepts any peripheral.
	Filters         []device.Filter
	ServiceUUID     string
	ImageCharUUID   string
	CommandCharUUID string
	Geometry        frame.Geometry

	WatchdogDeadline time.Duration
	AckTimeout       time.Duration
	EventQueue       int
	DeliveryQueue    int // frames waiting for the consumer; the oldest is dropped when full
	RawTailSize      int

	Consumer      FrameConsumer
	OnStateChange func(from, to State)

	Logger    *logrus.Logger
	Notifier  notify.Notifier
	Clock     func() time.Time
	AfterFunc AfterFunc
}

func (o *Options) applyDefaults() {
	if o.Filters == nil {
		o.Filters = device.DefaultFilters()
	}
	if o.ServiceUUID == "" {
		o.ServiceUUID = device.ServiceUUID
	}
	if o.ImageCharUUID == "" {
		o.ImageCharUUID = device.ImageCharUUID
	}
	if o.CommandCharUUID == "" {
		o.CommandCharUUID = device.CommandCharUUID
	}
	if !o.Geometry.Valid() {
		o.Geometry = frame.DefaultGeometry()
	}
	if o.WatchdogDeadline <= 0 {
		o.WatchdogDeadline = DefaultWatchdogDeadline
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.EventQueue <= 0 {
		o.EventQueue = DefaultEventQueue
	}
	if o.DeliveryQueue <= 0 {
		o.DeliveryQueue = DefaultDeliveryQueue
	}
	if o.RawTailSize <= 0 {
		o.RawTailSize = DefaultRawTailSize
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
	if o.Notifier == nil {
		o.Notifier = notify.Discard
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Session is the link state machine. It owns at most one link at a time; every
// successful Scan builds a fresh link with its own accumulator, watchdog and
// acknowledgement controller.
//
// Chunk arrival, disconnects and watchdog expiry are serialized on the link's
// event queue and handled by a single goroutine. All exported methods are safe
// for concurrent use.
type Session struct {
	t        device.Transport
	opts     Options
	logger   *logrus.Logger
	notifier notify.Notifier
	stats    *StatsCollector
	watchdog *Watchdog
	tail     *rawTail
	wg       sync.WaitGroup

	setupMu sync.Mutex // one Scan at a time

	mu          sync.Mutex
	state       State
	link        *link
	setupCancel context.CancelFunc
	setupDone   chan struct{}
	aborted     bool
	linkSeq     uint64
}

// New creates an Idle session on top of t.
func New(t device.Transport, opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		t:        t,
		opts:     opts,
		logger:   opts.Logger,
		notifier: opts.Notifier,
		stats:    NewStatsCollector(opts.Clock),
		watchdog: NewWatchdog(opts.Clock, opts.AfterFunc),
		tail:     newRawTail(opts.RawTailSize),
		state:    Idle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the link counters.
func (s *Session) Stats() Stats {
	return s.stats.Snapshot()
}

// Geometry returns the frame geometry the session reassembles.
func (s *Session) Geometry() frame.Geometry {
	return s.opts.Geometry
}

// Peripheral returns the connected peripheral, or nil.
func (s *Session) Peripheral() device.Peripheral {
	if l := s.current(); l != nil {
		return l.peripheral
	}
	return nil
}

// AckEnabled reports whether the connected peripheral exposes the command characteristic.
func (s *Session) AckEnabled() bool {
	if l := s.current(); l != nil {
		return l.ack.Enabled()
	}
	return false
}

// LinkDone returns a channel closed when the current link is torn down, or nil
// when there is no link.
func (s *Session) LinkDone() <-chan struct{} {
	if l := s.current(); l != nil {
		return l.done
	}
	return nil
}

// RecentBytes returns the most recent raw bytes received on the image
// characteristic, oldest first, across frame boundaries.
func (s *Session) RecentBytes() []byte {
	return s.tail.Bytes()
}

// Wait blocks until every goroutine started for past links has exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Scan finds a peripheral, connects, discovers the image service and subscribes
// to frame notifications. It is valid from Idle and Disconnected.
//
// On success the session is SubscribedAwaitingFirstChunk and the stall watchdog
// is armed. Transport and device selection failures return the session to Idle;
// failures after a connection was attempted leave it Disconnected. The returned
// error is a *device.LinkError.
func (s *Session) Scan(ctx context.Context) error {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	s.mu.Lock()
	if s.state != Idle && s.state != Disconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionActive, st)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.setupCancel = cancel
	s.setupDone = done
	s.aborted = false
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.setupCancel = nil
		s.setupDone = nil
		s.mu.Unlock()
		close(done)
	}()

	if !s.t.IsAvailable() {
		err := device.NewError(device.TransportUnavailable, nil, "radio stack %s", s.t.Capability())
		return s.failSetup(Idle, err, notify.Error, msgNoTransport)
	}
	if !s.t.IsAdapterReady() {
		err := device.NewError(device.AdapterUnavailable, nil, "adapter %s", s.t.Capability())
		return s.failSetup(Idle, err, notify.Error, msgAdapterOff)
	}

	s.setState(Scanning)
	s.notifier.Notify(notify.Info, msgScanning)

	p, err := s.t.RequestDevice(ctx, s.opts.Filters)
	if err == nil && p == nil {
		err = device.NewError(device.NoDeviceFound, nil, "no peripheral selected")
	}
	if err != nil {
		switch {
		case ctx.Err() != nil || device.KindOf(err) == device.UserCancelled:
			return s.failSetup(Idle, ensureKind(err, device.UserCancelled), notify.Warning, msgCancelled)
		case device.KindOf(err) == device.AdapterUnavailable:
			return s.failSetup(Idle, err, notify.Error, msgAdapterOff)
		default:
			return s.failSetup(Idle, ensureKind(err, device.NoDeviceFound), notify.Error, msgNoDevice)
		}
	}

	s.setState(Connecting)
	s.notifier.Notify(notify.Info, fmt.Sprintf("Connecting to %s...", displayName(p)))
	s.logger.WithFields(logrus.Fields{
		"id":      p.ID(),
		"name":    p.Name(),
		"address": p.Address(),
		"rssi":    p.RSSI(),
	}).Info("Connecting to peripheral")

	conn, err := s.t.Connect(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return s.failSetup(Disconnected, ensureKind(err, device.UserCancelled), notify.Warning, msgCancelled)
		}
		return s.failSetup(Disconnected, ensureKind(err, device.ConnectFailed), notify.Error, msgConnectFailed)
	}

	// past this point the link is physically up and must be released on failure
	cancelled := func(cause error) error {
		s.release(conn)
		return s.failSetup(Disconnected, ensureKind(cause, device.UserCancelled), notify.Warning, msgCancelled)
	}
	unusable := func(cause error) error {
		if ctx.Err() != nil {
			return cancelled(cause)
		}
		s.release(conn)
		err := cause
		if device.KindOf(cause) != device.ServiceUnavailable {
			err = device.NewError(device.ServiceUnavailable, cause, "image stream unavailable")
		}
		return s.failSetup(Disconnected, err, notify.Warning, msgServiceMissing)
	}

	svc, err := s.t.DiscoverService(ctx, conn, s.opts.ServiceUUID)
	if err != nil {
		return unusable(err)
	}
	img, err := s.t.DiscoverCharacteristic(ctx, svc, s.opts.ImageCharUUID)
	if err != nil {
		return unusable(ensureKind(err, device.CharacteristicUnavailable))
	}
	var cmd device.Characteristic
	if c, err := s.t.DiscoverCharacteristic(ctx, svc, s.opts.CommandCharUUID); err != nil {
		s.logger.WithError(err).Warn("Command characteristic not found, frame acknowledgements disabled")
	} else {
		cmd = c
	}

	l := s.newLink(p, conn, img, cmd)
	s.t.OnDisconnected(conn, func() {
		l.post(event{kind: evPeripheralDisconnect})
	})

	if err := s.t.Subscribe(ctx, img, l.onNotify); err != nil {
		l.cancel()
		return unusable(ensureKind(err, device.SubscribeFailed))
	}

	s.mu.Lock()
	if s.aborted || ctx.Err() != nil {
		s.mu.Unlock()
		l.cancel()
		_ = s.t.Unsubscribe(img)
		return cancelled(context.Canceled)
	}
	s.stats.Reset()
	s.tail.Reset()
	s.stats.OnSubscribed()
	s.link = l
	from := s.state
	s.state = SubscribedAwaitingFirstChunk
	s.mu.Unlock()
	s.stateChanged(from, SubscribedAwaitingFirstChunk)

	l.disarm = s.watchdog.Arm(s.opts.WatchdogDeadline, func(armedAt time.Time) {
		l.post(event{kind: evWatchdog, armedAt: armedAt})
	})

	groutine.GoWait(l.ctx, &s.wg, fmt.Sprintf("session-events-%d", l.id), func(context.Context) {
		s.run(l)
	})
	if s.opts.Consumer != nil {
		groutine.GoWait(l.ctx, &s.wg, fmt.Sprintf("frame-delivery-%d", l.id), func(ctx context.Context) {
			s.deliver(ctx, l)
		})
	}

	s.logger.WithFields(logrus.Fields{
		"link":     l.id,
		"ack":      cmd != nil,
		"watchdog": s.opts.WatchdogDeadline,
	}).Info("Subscribed to image notifications")
	s.notifier.Notify(notify.Success, msgReady)
	return nil
}

// Disconnect tears the link down and leaves the session Disconnected. It is a
// no-op in Idle and Disconnected, and aborts a Scan that is still in progress.
// It returns once teardown has completed or ctx is done.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	l := s.link
	cancelSetup, setupDone := s.setupCancel, s.setupDone
	state := s.state
	if l == nil && cancelSetup != nil {
		s.aborted = true
	}
	s.mu.Unlock()

	switch {
	case l != nil:
		l.post(event{kind: evUserDisconnect})
		select {
		case <-l.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case cancelSetup != nil:
		cancelSetup()
		select {
		case <-setupDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		s.logger.WithField("state", state).Debug("Disconnect: nothing to tear down")
		return nil
	}
}

// ReadImageCharacteristicOnce reads the image characteristic outside the
// notification stream. Diagnostics only.
func (s *Session) ReadImageCharacteristicOnce(ctx context.Context) ([]byte, error) {
	l := s.current()
	if l == nil {
		s.notifier.Notify(notify.Error, msgImageCharMissing)
		return nil, device.NewError(device.CharacteristicUnavailable, nil, "image characteristic not available")
	}

	data, err := s.t.Read(ctx, l.image)
	if err != nil {
		err = ensureKind(err, device.ReadFailed)
		s.notifier.Notify(notify.Error, fmt.Sprintf("Read failed: %v", err))
		return nil, err
	}

	head := data[:min(16, len(data))]
	s.logger.WithFields(logrus.Fields{
		"len":   len(data),
		"first": fmt.Sprintf("% x", head),
	}).Info("Image characteristic read")
	s.notifier.Notify(notify.Info, fmt.Sprintf("Read image char value: %d bytes (first bytes: % x)", len(data), head))
	return data, nil
}

// SendAckNow writes one acknowledgement byte immediately. Diagnostics only.
func (s *Session) SendAckNow(ctx context.Context) error {
	l := s.current()
	if l == nil || !l.ack.Enabled() {
		s.notifier.Notify(notify.Error, msgCmdCharMissing)
		return device.NewError(device.CharacteristicUnavailable, nil, "command characteristic not available")
	}
	if err := l.ack.SendNow(ctx); err != nil {
		s.notifier.Notify(notify.Error, fmt.Sprintf("ACK failed: %v", err))
		return err
	}
	s.notifier.Notify(notify.Success, msgAckSent)
	return nil
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.stateChanged(from, to)
}

// advance moves from -> to only if the session is still in from.
func (s *Session) advance(l *link, from, to State) bool {
	s.mu.Lock()
	if s.link != l || s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()
	s.stateChanged(from, to)
	return true
}

func (s *Session) stateChanged(from, to State) {
	if from == to {
		return
	}
	s.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Session state changed")
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(from, to)
	}
}

func (s *Session) failSetup(to State, err error, level notify.Level, text string) error {
	s.mu.Lock()
	if s.aborted {
		to = Disconnected
	}
	s.mu.Unlock()

	entry := s.logger.WithError(err).WithField("kind", device.KindOf(err))
	if level == notify.Error {
		entry.Error("Link setup failed")
	} else {
		entry.Warn("Link setup failed")
	}
	s.notifier.Notify(level, text)
	s.setState(to)
	return err
}

func (s *Session) release(conn device.Link) {
	if err := s.t.Disconnect(conn); err != nil {
		s.logger.WithError(err).Debug("Failed to release link after setup failure")
	}
}

func ensureKind(err error, kind device.ErrorKind) error {
	if device.KindOf(err) == kind {
		return err
	}
	return device.NewError(kind, err, "")
}

func displayName(p device.Peripheral) string {
	if p.Name() != "" {
		return p.Name()
	}
	return "MoodSip device"
}

// ----- per-link state -----

type eventKind int

const (
	evChunk eventKind = iota
	evWatchdog
	evPeripheralDisconnect
	evUserDisconnect
)

type event struct {
	kind    eventKind
	data    []byte
	armedAt time.Time
}

// link is everything that belongs to one subscription. It is never reused.
type link struct {
	id         uint64
	peripheral device.Peripheral
	conn       device.Link
	image      device.Characteristic
	acc        *frame.Accumulator // touched only by the event goroutine
	ack        *AckController
	events     chan event
	frames     *ringchan.RingChannel[frame.Frame]
	ctx        context.Context
	cancel     context.CancelFunc
	disarm     func()
	done       chan struct{}
}

func (s *Session) newLink(p device.Peripheral, conn device.Link, img, cmd device.Characteristic) *link {
	s.mu.Lock()
	s.linkSeq++
	id := s.linkSeq
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		id:         id,
		peripheral: p,
		conn:       conn,
		image:      img,
		acc:        frame.NewAccumulator(s.opts.Geometry, frame.WithClock(s.opts.Clock)),
		ack:        NewAckController(ctx, s.t, cmd, s.opts.AckTimeout, s.logger, s.notifier),
		events:     make(chan event, s.opts.EventQueue),
		frames:     ringchan.New[frame.Frame](s.opts.DeliveryQueue),
		ctx:        ctx,
		cancel:     cancel,
		disarm:     func() {},
		done:       make(chan struct{}),
	}
}

// post enqueues ev unless the link has been torn down.
func (l *link) post(ev event) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.events <- ev:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// onNotify is the transport notification handler.
func (l *link) onNotify(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	l.post(event{kind: evChunk, data: chunk})
}

func (s *Session) run(l *link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.events:
			switch ev.kind {
			case evChunk:
				s.handleChunk(l, ev.data)
			case evWatchdog:
				s.handleWatchdog(l, ev.armedAt)
			case evPeripheralDisconnect:
				s.teardown(l, false)
				return
			case evUserDisconnect:
				s.teardown(l, true)
				return
			}
		}
	}
}

func (s *Session) handleChunk(l *link, data []byte) {
	if l.ctx.Err() != nil {
		return
	}

	s.stats.OnChunk(len(data))
	s.tail.Append(data)
	if s.advance(l, SubscribedAwaitingFirstChunk, Streaming) {
		s.logger.WithField("len", len(data)).Info("First image chunk received")
	}

	err := l.acc.Process(data, func(f frame.Frame) error {
		s.stats.OnFrameCompleted()
		l.ack.OnFrameCompleted()
		s.handOff(l, f)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("Frame reassembly reset")
		s.notifier.Notify(notify.Warning, fmt.Sprintf("Error processing Bluetooth data: %v", err))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"len":    len(data),
		"filled": l.acc.Filled(),
	}).Trace("Image chunk accepted")
}

func (s *Session) handOff(l *link, f frame.Frame) {
	s.logger.WithFields(logrus.Fields{
		"frame": f.ID,
		"seq":   f.Seq,
	}).Debug("Frame completed")

	if s.opts.Consumer == nil {
		return
	}
	dropped, ok := l.frames.ForceSend(f)
	if !ok {
		return
	}
	s.stats.OnFrameDropped()
	s.logger.WithField("seq", dropped.Seq).Warn("Frame consumer is behind, dropped the oldest pending frame")
	s.notifier.Notify(notify.Warning, fmt.Sprintf(msgFrameSkipped, dropped.Seq))
}

func (s *Session) handleWatchdog(l *link, armedAt time.Time) {
	if l.ctx.Err() != nil {
		return
	}
	if !Stalled(s.stats.Snapshot(), armedAt) {
		s.logger.Debug("Watchdog expired after data started flowing")
		return
	}
	s.logger.WithField("deadline", s.opts.WatchdogDeadline).Warn("No notifications received after subscription")
	s.notifier.Notify(notify.Warning, msgStall)
}

func (s *Session) deliver(ctx context.Context, l *link) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.frames.C():
			err := s.consume(ctx, f)
			if err == nil || ctx.Err() != nil {
				continue
			}
			s.logger.WithError(err).WithField("frame", f.ID).Warn("Frame consumer failed")
			s.notifier.Notify(notify.Warning, fmt.Sprintf("Frame %d not processed: %v", f.Seq, err))
		}
	}
}

func (s *Session) consume(ctx context.Context, f frame.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = device.NewError(device.ConsumerCallbackFailed, err, "frame %d", f.Seq)
		}
	}()
	return s.opts.Consumer(ctx, f, f.Meta())
}

// teardown runs on the event goroutine.
func (s *Session) teardown(l *link, byUser bool) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	from := s.state
	if byUser {
		s.state = Disconnecting
	}
	s.mu.Unlock()
	if byUser {
		s.stateChanged(from, Disconnecting)
	}

	l.cancel()
	l.disarm()

	if err := s.t.Unsubscribe(l.image); err != nil {
		s.logger.WithError(err).Debug("Unsubscribe failed during teardown")
	}
	if byUser {
		if err := s.t.Disconnect(l.conn); err != nil {
			s.logger.WithError(err).Warn("Disconnect failed")
		}
	}

	s.stats.Reset()
	s.tail.Reset()

	s.mu.Lock()
	s.link = nil
	from = s.state
	s.state = Disconnected
	s.mu.Unlock()
	s.stateChanged(from, Disconnected)

	s.logger.WithFields(logrus.Fields{
		"link":        l.id,
		"by_user":     byUser,
		"acks":        l.ack.Sent(),
		"acks_failed": l.ack.Failed(),
	}).Info("Link torn down")
	s.notifier.Notify(notify.Info, msgDisconnected)
	close(l.done)
}
