package procexit_test

import (
	"sync"
	"testing"

	"github.com/tekert/procexit/internal/test"
	"github.com/tekert/procexit/procexit"
)

func init() {
	procexit.DisableLogging()
}

func TestNotifierOrder(t *testing.T) {
	tt := test.FromT(t)
	var n procexit.Notifier

	var got []string
	n.Subscribe(func(e procexit.DecodedExit) { got = append(got, "a:"+e.ImageName) })
	n.Subscribe(func(e procexit.DecodedExit) { got = append(got, "b:"+e.ImageName) })
	n.Subscribe(func(e procexit.DecodedExit) { got = append(got, "c:"+e.ImageName) })
	tt.Equal(3, n.Len())

	n.Publish(procexit.DecodedExit{ImageName: "1"})
	n.Publish(procexit.DecodedExit{ImageName: "2"})

	tt.Equal([]string{"a:1", "b:1", "c:1", "a:2", "b:2", "c:2"}, got)
}

func TestNotifierUnsubscribe(t *testing.T) {
	tt := test.FromT(t)
	var n procexit.Notifier

	var a, b int
	unsubA := n.Subscribe(func(procexit.DecodedExit) { a++ })
	n.Subscribe(func(procexit.DecodedExit) { b++ })

	n.Publish(procexit.DecodedExit{})
	unsubA()
	unsubA()
	n.Publish(procexit.DecodedExit{})

	tt.Equal(1, a)
	tt.Equal(2, b)
	tt.Equal(1, n.Len())

	// nil subscribers are ignored.
	n.Subscribe(nil)()
	tt.Equal(1, n.Len())
}

func TestNotifierPanicIsolation(t *testing.T) {
	tt := test.FromT(t)
	var n procexit.Notifier

	var got []uint32
	n.Subscribe(func(e procexit.DecodedExit) { got = append(got, e.PID) })
	n.Subscribe(func(e procexit.DecodedExit) {
		if e.PID == 2 {
			panic("subscriber bug")
		}
	})
	n.Subscribe(func(e procexit.DecodedExit) { got = append(got, e.PID*10) })

	for pid := uint32(1); pid <= 3; pid++ {
		n.Publish(procexit.DecodedExit{PID: pid})
	}

	tt.Equal([]uint32{1, 10, 2, 20, 3, 30}, got)
	tt.Equal(uint64(1), n.Panics.Load())
}

func TestNotifierConcurrentSubscribe(t *testing.T) {
	tt := test.FromT(t)
	var n procexit.Notifier

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		calls int
	)
	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for {
			select {
			case <-stop:
				return
			default:
				n.Publish(procexit.DecodedExit{PID: 1})
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unsub := n.Subscribe(func(procexit.DecodedExit) {
					mu.Lock()
					calls++
					mu.Unlock()
				})
				unsub()
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-published

	tt.Equal(0, n.Len())
}
