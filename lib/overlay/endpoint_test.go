package overlay

import (
	"context"
	"net"
	"testing"
	"time"
)

func listen(t *testing.T) *Endpoint {
	t.Helper()
	e, err := Listen("127.0.0.1:0", Config{})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEndpointExchange(t *testing.T) {
	a := listen(t)
	b := listen(t)
	got := make(chan string, 1)
	b.SetHandler(func(from string, data []byte) {
		got <- from + " " + string(data)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)

	if err := a.Send(b.LocalAddr().String(), []byte("ping")); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-got:
		want := a.LocalAddr().String() + " ping"
		if msg != want {
			t.Fatalf("got %q want %q", msg, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no packet")
	}
	peers := b.Peers()
	if len(peers) != 1 || peers[0] != a.LocalAddr().String() {
		t.Fatalf("peers %v", peers)
	}
	a.Close()
	b.Close()
}

func TestPeerTimeout(t *testing.T) {
	e := listen(t)
	defer e.Close()
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }
	if err := e.AddBootstrap("127.0.0.1:7000", 2); err != nil {
		t.Fatal(err)
	}
	key := e.heard(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7001})
	if len(e.Peers()) != 2 {
		t.Fatalf("peers %v", e.Peers())
	}
	now = now.Add(DefaultPeerTimeout)
	peers := e.Peers()
	if len(peers) != 1 || peers[0] != "127.0.0.1:7000" {
		t.Fatalf("peers after timeout %v", peers)
	}
	if e.Trust(key) != 0 {
		t.Fatal("expired peer kept trust")
	}
}

func TestDefaultTrust(t *testing.T) {
	e := listen(t)
	defer e.Close()
	if err := e.AddBootstrap("127.0.0.1:7000", 2); err != nil {
		t.Fatal(err)
	}
	key := e.heard(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7001})
	if e.Trust(key) != 0 {
		t.Fatalf("trust %v", e.Trust(key))
	}
	for i := 0; i < maxEarnedTrust+10; i++ {
		e.MarkValid(key)
	}
	if e.Trust(key) != maxEarnedTrust {
		t.Fatalf("trust %v", e.Trust(key))
	}
	e.MarkValid("127.0.0.1:7000")
	if e.Trust("127.0.0.1:7000") != 3 {
		t.Fatalf("bootstrap trust %v", e.Trust("127.0.0.1:7000"))
	}
	e.SetTrust(func(string) float64 { return 42 })
	if e.Trust(key) != 42 {
		t.Fatal("trust func not replaced")
	}
}

func TestSendTooBig(t *testing.T) {
	e := listen(t)
	defer e.Close()
	if err := e.Send("127.0.0.1:7000", make([]byte, MaxPacketSize+1)); err != ErrPacketTooBig {
		t.Fatalf("err %v", err)
	}
}

func TestWorkerSerial(t *testing.T) {
	e := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	var order []int
	fin := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		e.Post(func() { order = append(order, i) })
	}
	e.Post(func() { close(fin) })
	<-fin
	for i, v := range order {
		if i != v {
			t.Fatalf("order %v", order)
		}
	}
	ticks := make(chan struct{}, 4)
	e.Every(5*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	<-ticks
	<-ticks
	cancel()
	<-done
	e.Wait()
	if e.Post(func() {}) {
		t.Fatal("post after close")
	}
}
