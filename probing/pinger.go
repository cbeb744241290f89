package probing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"pinger/common"
	"pinger/config"
	packet "pinger/packet_handler"
	"pinger/storage"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

var ErrNotStarted = errors.New("pinger not started")

// Pinger owns the endpoint, the hand-off queue and the three loops sharing them:
// sender, receiver and probe log writer.
type Pinger struct {
	cfg   *config.Config
	dest  *net.UDPAddr
	clock packet.Clock

	channel  *Channel
	queue    *storage.Queue[packet.Record]
	writer   *storage.LogWriter[packet.Record]
	sender   *Sender
	receiver *Receiver
	pool     *ants.Pool

	cancel     context.CancelFunc
	loops      sync.WaitGroup
	writerDone chan struct{}
	done       chan struct{}

	mu       sync.Mutex
	started  bool
	err      error
	stopOnce sync.Once
}

func New(cfg *config.Config, dest *net.UDPAddr, clock packet.Clock) *Pinger {
	if clock == nil {
		clock = packet.SystemClock{}
	}
	return &Pinger{
		cfg:        cfg,
		dest:       dest,
		clock:      clock,
		queue:      storage.NewQueue[packet.Record](),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start takes the probe log, binds the endpoint and launches the loops.
// Nothing is left running when it returns an error.
func (p *Pinger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pinger already started")
	}

	p.writer = storage.NewLogWriter(p.cfg.LogFile, p.queue, storage.LogWriterConfig{
		DrainInterval:    p.cfg.DrainInterval(),
		MaxWriteFailures: p.cfg.MaxWriteFailures,
	})
	if err := p.writer.Open(); err != nil {
		return err
	}

	channel, err := Listen(p.cfg.ListenAddr, p.dest)
	if err != nil {
		p.writer.Close()
		return err
	}
	p.channel = channel

	pool, err := common.NewPool(common.PoolConfig{Name: "pinger", MaxWorkers: 3})
	if err != nil {
		p.channel.Close()
		p.writer.Close()
		return err
	}
	p.pool = pool

	p.sender = NewSender(channel, p.clock, SenderConfig{
		PollInterval: p.cfg.PollInterval(),
		Retries:      p.cfg.SendRetries,
		RetryDelay:   p.cfg.SendRetryDelay(),
	})
	p.receiver = NewReceiver(channel, p.clock, p.queue)

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	// the writer outlives loopCtx so it can drain what the receiver enqueued before stopping
	writerCtx := context.WithoutCancel(ctx)
	if err := p.pool.Submit(func() {
		defer close(p.writerDone)
		if err := p.writer.Run(writerCtx); err != nil {
			log.Errorf("probe log writer failed: %v", err)
			p.setErr(err)
			go p.Stop()
		}
	}); err != nil {
		p.abortStart(err)
		return fmt.Errorf("failed to start log writer: %w", err)
	}

	loops := []struct {
		name string
		run  func(context.Context) error
	}{
		{name: "sender", run: p.sender.Run},
		{name: "receiver", run: p.receiver.Run},
	}
	for _, loop := range loops {
		p.loops.Add(1)
		loopCopy := loop
		if err := p.pool.Submit(func() {
			defer p.loops.Done()
			if err := loopCopy.run(loopCtx); err != nil {
				log.Errorf("%s loop failed: %v", loopCopy.name, err)
				p.setErr(err)
			}
		}); err != nil {
			// Submit failed, compensate wg so Stop does not hang
			p.loops.Done()
			p.started = true
			p.err = err
			go p.Stop()
			return fmt.Errorf("failed to start %s loop: %w", loopCopy.name, err)
		}
	}

	p.started = true
	log.Infof("pinger started, local %v -> remote %v", channel.LocalAddr(), p.dest)
	return nil
}

// abortStart runs with p.mu held.
func (p *Pinger) abortStart(err error) {
	p.cancel()
	p.channel.Close()
	p.writer.Close()
	p.pool.Release()
	p.err = err
	close(p.done)
}

// Stop cancels the sender, closes the endpoint to unblock the receiver, then lets the
// writer drain the queue before returning. It is safe to call more than once.
func (p *Pinger) Stop() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	p.stopOnce.Do(func() {
		p.cancel()
		if err := p.channel.Close(); err != nil {
			log.Warnf("failed to close endpoint: %v", err)
		}
		p.loops.Wait()
		p.queue.Close()
		<-p.writerDone
		p.pool.Release()

		stats := p.receiver.Stats()
		log.Infof("pinger stopped: %d probes sent, %d send failures, %d received, %d invalid, %d logged",
			p.sender.Sent(), p.sender.Failed(), stats.Received, stats.Invalid, p.writer.Written())
		close(p.done)
	})
	<-p.done
	return p.Err()
}

// Done is closed once Stop has finished, including after a fatal log writer error.
func (p *Pinger) Done() <-chan struct{} {
	return p.done
}

func (p *Pinger) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pinger) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Pinger) LocalAddr() *net.UDPAddr {
	if p.channel == nil {
		return nil
	}
	return p.channel.LocalAddr()
}

func (p *Pinger) ReceiverStats() ReceiverStats {
	if p.receiver == nil {
		return ReceiverStats{}
	}
	return p.receiver.Stats()
}
