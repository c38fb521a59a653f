package netgate

import (
	"context"
	"net"
	"sync"
	"time"
)

// DialFunc opens a connection; net.Dialer.DialContext in production.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Prober feeds a Gate by periodically opening a TCP connection to addr.
type Prober struct {
	gate     *Gate
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProber(gate *Gate, addr string, interval time.Duration) *Prober {
	timeout := 5 * time.Second
	if interval > 0 && interval < timeout {
		timeout = interval
	}
	d := &net.Dialer{}
	return &Prober{
		gate:     gate,
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		dial:     d.DialContext,
	}
}

// ProbeOnce dials once and reports the result to the gate. A failure caused
// by ctx itself being cancelled is not reported.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(dctx, "tcp", p.addr)
	if err != nil && ctx.Err() != nil {
		return false
	}
	if err == nil {
		conn.Close()
	}
	p.gate.Set(err == nil)
	return err == nil
}

// Start probes immediately and then every interval until Stop.
func (p *Prober) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.ProbeOnce(ctx)
		if p.interval <= 0 {
			return
		}
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeOnce(ctx)
			}
		}
	}()
}

func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
