package testutil

import (
	"context"
	"io"
	"sync"

	"knowte-api/internal/llm"
)

// FakeBackend is a scripted llm.Backend.
type FakeBackend struct {
	mu sync.Mutex

	// Reply and Err answer ChatOnce.
	Reply string
	Err   error
	// OnChat, when set, runs inside ChatOnce before it answers.
	OnChat func()

	// Deltas are streamed in order by ChatStream. After them the stream
	// returns RecvErr, or io.EOF when RecvErr is nil.
	Deltas  []llm.Delta
	RecvErr error
	// StreamErr makes ChatStream fail before any delta.
	StreamErr error

	calls  [][]llm.Message
	closed int
}

func (f *FakeBackend) ChatOnce(ctx context.Context, model string, messages []llm.Message) (string, error) {
	f.record(messages)
	if f.OnChat != nil {
		f.OnChat()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Reply, f.Err
}

func (f *FakeBackend) ChatStream(ctx context.Context, model string, messages []llm.Message) (llm.Stream, error) {
	f.record(messages)
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}
	return &fakeStream{ctx: ctx, owner: f, deltas: append([]llm.Delta(nil), f.Deltas...), tail: f.RecvErr}, nil
}

// Calls returns the message lists the backend received.
func (f *FakeBackend) Calls() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.calls...)
}

// Closed returns how many streams were closed.
func (f *FakeBackend) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeBackend) record(messages []llm.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]llm.Message(nil), messages...))
}

type fakeStream struct {
	ctx    context.Context
	owner  *FakeBackend
	deltas []llm.Delta
	tail   error
}

func (s *fakeStream) Recv() (llm.Delta, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Delta{}, err
	}
	if len(s.deltas) == 0 {
		if s.tail != nil {
			return llm.Delta{}, s.tail
		}
		return llm.Delta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *fakeStream) Close() error {
	s.owner.mu.Lock()
	s.owner.closed++
	s.owner.mu.Unlock()
	return nil
}
