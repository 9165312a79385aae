package groupsync

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

type Options func(group *Option)

type Option struct {
	worker        int
	receiver      int
	limit         int
	channelBuffer int
}

// Group runs functions on a bounded pool and collects their results into a
// slice. Results are appended in completion order.
type Group[T any] struct {
	collector *[]T
	channel   chan T

	mux  sync.Mutex
	wg   *sync.WaitGroup
	recv *sync.WaitGroup
	pool *ants.Pool
}

func NewGroup[T any](collector *[]T, opt ...Options) (*Group[T], error) {
	var err error
	group := &Group[T]{
		collector: collector,
		wg:        new(sync.WaitGroup),
		recv:      new(sync.WaitGroup),
	}
	option := &Option{
		worker:   10,
		receiver: 3,
	}
	for _, fn := range opt {
		fn(option)
	}
	if option.worker < 1 {
		option.worker = 1
	}
	if option.receiver < 1 {
		option.receiver = 1
	}
	if option.limit < option.worker+option.receiver {
		option.limit = option.worker + option.receiver
	}
	group.channel = make(chan T, option.channelBuffer)

	group.pool, err = ants.NewPool(option.limit, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	if err := group.startReceiver(option); err != nil {
		group.pool.Release()
		return nil, err
	}
	return group, nil
}

func (g *Group[T]) startReceiver(opt *Option) error {
	for i := 0; i < opt.receiver; i++ {
		g.recv.Add(1)
		err := g.pool.Submit(func() {
			defer g.recv.Done()
			for s := range g.channel {
				g.mux.Lock()
				*g.collector = append(*g.collector, s)
				g.mux.Unlock()
			}
		})
		if err != nil {
			g.recv.Done()
			return err
		}
	}
	return nil
}

func (g *Group[T]) Go(fn func() T) error {
	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()
		g.channel <- fn()
	})
	if err != nil {
		g.wg.Done()
	}
	return err
}

// Wait blocks until every submitted function returned and its result was
// collected, then releases the pool.
func (g *Group[T]) Wait() {
	defer g.pool.Release()
	g.wg.Wait()
	close(g.channel)
	g.recv.Wait()
}

func WithLimit(limit int) Options {
	return func(opt *Option) {
		opt.limit = limit
	}
}

func WithWorker(worker int) Options {
	return func(opt *Option) {
		opt.worker = worker
	}
}

func WithReceivers(recv int) Options {
	return func(opt *Option) {
		opt.receiver = recv
	}
}

func WithChannelBuffer(size int) Options {
	return func(opt *Option) {
		opt.channelBuffer = size
	}
}
