// Package transport serializes the asynchronous operations one participant issues over its
// link so that exactly one is outstanding at a time.
package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind is the transport operation a command performs.
type Kind int

const (
	Read Kind = iota
	Write
	SubscribeOn
	SubscribeOff
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case SubscribeOn:
		return "subscribe"
	case SubscribeOff:
		return "unsubscribe"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// completesAsRead reports whether the link reports this kind through OnReadComplete.
func (k Kind) completesAsRead() bool { return k == Read }

// Command is a queued transport operation.
type Command struct {
	Kind    Kind
	Target  uuid.UUID
	Payload []byte
	// Done runs exactly once when the command completes, successfully or not.
	// It is not called for commands discarded on link loss.
	Done func(Result)
}

// Result is the outcome of a command.
type Result struct {
	Kind   Kind
	Target uuid.UUID
	Value  []byte
	Err    error
}

// Queue is a FIFO of commands with at most one in flight.
type Queue struct {
	mu       sync.Mutex
	link     Link
	pending  []*Command
	inFlight *Command
}

// NewQueue returns a queue with no link attached.
func NewQueue() *Queue {
	return &Queue{}
}

// Attach makes link available and starts any pending command.
func (q *Queue) Attach(link Link) {
	q.mu.Lock()
	q.link = link
	q.mu.Unlock()
	q.next()
}

// Detach drops the link and discards every queued and in-flight command.
func (q *Queue) Detach() {
	q.mu.Lock()
	discarded := len(q.pending)
	if q.inFlight != nil {
		discarded++
	}
	q.link = nil
	q.pending = nil
	q.inFlight = nil
	q.mu.Unlock()

	if discarded > 0 {
		log.Debug().Int("discarded", discarded).Msg("link lost, discarded queued commands")
	}
}

// Enqueue appends cmd. It returns false when no link is attached.
func (q *Queue) Enqueue(cmd *Command) bool {
	q.mu.Lock()
	if q.link == nil {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()

	q.next()
	return true
}

// Len returns the number of queued commands, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.inFlight != nil {
		n++
	}
	return n
}

// Attached reports whether a link is attached.
func (q *Queue) Attached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.link != nil
}

// Completed finishes the in-flight command with res and starts the next one.
// A completion that does not match the in-flight command is ignored.
func (q *Queue) Completed(res Result) {
	q.mu.Lock()
	cmd := q.inFlight
	if cmd == nil {
		q.mu.Unlock()
		log.Warn().Str("target", res.Target.String()).Msg("completion with no command in flight")
		return
	}
	if cmd.Target != res.Target || cmd.Kind.completesAsRead() != res.Kind.completesAsRead() {
		q.mu.Unlock()
		log.Warn().
			Str("expected", cmd.Target.String()).
			Str("got", res.Target.String()).
			Msg("completion does not match command in flight")
		return
	}
	q.inFlight = nil
	q.mu.Unlock()

	res.Kind = cmd.Kind
	if cmd.Done != nil {
		cmd.Done(res)
	}
	q.next()
}

// next starts the head command if nothing is in flight. A command whose primitive refuses
// to start completes immediately with that error so the queue keeps moving.
func (q *Queue) next() {
	for {
		q.mu.Lock()
		if q.inFlight != nil || len(q.pending) == 0 || q.link == nil {
			q.mu.Unlock()
			return
		}
		cmd := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.inFlight = cmd
		link := q.link
		q.mu.Unlock()

		err := start(link, cmd)
		if err == nil {
			return
		}

		q.mu.Lock()
		if q.inFlight != cmd {
			// completed or discarded while starting
			q.mu.Unlock()
			return
		}
		q.inFlight = nil
		q.mu.Unlock()

		log.Debug().Err(err).Str("command", cmd.Kind.String()).Str("target", cmd.Target.String()).Msg("command failed to start")
		if cmd.Done != nil {
			cmd.Done(Result{Kind: cmd.Kind, Target: cmd.Target, Err: err})
		}
	}
}

func start(link Link, cmd *Command) error {
	switch cmd.Kind {
	case Read:
		return link.Read(cmd.Target)
	case Write:
		return link.Write(cmd.Target, cmd.Payload)
	case SubscribeOn:
		return link.SetNotify(cmd.Target, true)
	case SubscribeOff:
		return link.SetNotify(cmd.Target, false)
	default:
		return fmt.Errorf("unknown command kind %s", cmd.Kind)
	}
}
