package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/practicetree/go/internal/race/transport"
	"github.com/rs/zerolog/log"
)

// ErrLinkBusy is returned when a local link cannot accept more operations.
var ErrLinkBusy = errors.New("local link backlog full")

const localLinkBacklog = 64

// LocalLink attaches an in-process participant to a coordinator. Operations and
// notifications are delivered to the handler in order on the link's own goroutine, so
// neither side ever waits on the other.
type LocalLink struct {
	coord       *Coordinator
	participant string
	handler     transport.Handler

	ctx    context.Context
	cancel context.CancelFunc
	work   chan func()
	done   chan struct{}

	closeOnce sync.Once
	racerID   int
}

// Attach connects participantID to c and reports the link to handler through OnLinkUp.
func Attach(ctx context.Context, c *Coordinator, participantID string, handler transport.Handler) (*LocalLink, error) {
	linkCtx, cancel := context.WithCancel(context.Background())
	l := &LocalLink{
		coord:       c,
		participant: participantID,
		handler:     handler,
		ctx:         linkCtx,
		cancel:      cancel,
		work:        make(chan func(), localLinkBacklog),
		done:        make(chan struct{}),
	}

	racerID, err := c.Connect(ctx, participantID, l)
	if err != nil {
		cancel()
		return nil, err
	}
	l.racerID = racerID

	go l.run()
	l.post(func() { handler.OnLinkUp(l) })
	return l, nil
}

// RacerID returns the id the coordinator assigned.
func (l *LocalLink) RacerID() int { return l.racerID }

func (l *LocalLink) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.work:
			fn()
		}
	}
}

func (l *LocalLink) post(fn func()) bool {
	select {
	case l.work <- fn:
		return true
	default:
		return false
	}
}

// Read implements transport.Link.
func (l *LocalLink) Read(target uuid.UUID) error {
	if !l.post(func() {
		value, err := l.coord.Read(l.ctx, l.participant, target)
		l.handler.OnReadComplete(target, value, err)
	}) {
		return ErrLinkBusy
	}
	return nil
}

// Write implements transport.Link.
func (l *LocalLink) Write(target uuid.UUID, value []byte) error {
	payload := append([]byte(nil), value...)
	if !l.post(func() {
		err := l.coord.Write(l.ctx, l.participant, target, payload)
		l.handler.OnWriteComplete(target, err)
	}) {
		return ErrLinkBusy
	}
	return nil
}

// SetNotify implements transport.Link.
func (l *LocalLink) SetNotify(target uuid.UUID, enable bool) error {
	if !l.post(func() {
		err := l.coord.SetNotify(l.ctx, l.participant, target, enable)
		l.handler.OnWriteComplete(target, err)
	}) {
		return ErrLinkBusy
	}
	return nil
}

// Notify implements Notifier.
func (l *LocalLink) Notify(target uuid.UUID, value []byte) {
	if !l.post(func() { l.handler.OnCharacteristicChanged(target, value) }) {
		log.Warn().Str("participant", l.participant).Str("target", target.String()).Msg("local link backlog full, dropping notification")
	}
}

// Close disconnects the participant and reports the link down to the handler.
func (l *LocalLink) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		err = l.coord.Disconnect(ctx, l.participant)
		l.cancel()
		<-l.done
		l.handler.OnLinkDown(transport.ErrLinkLost)
	})
	return err
}
