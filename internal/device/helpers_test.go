package device

import (
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

const testWait = 3 * time.Second

// envelope is a message captured by a recorder, together with its sender.
type envelope struct {
	msg    any
	sender *actor.PID
}

// recorder is a test actor that hands every user message to the test.
type recorder struct {
	pid  *actor.PID
	root *actor.RootContext
	msgs chan envelope
}

// newRecorder spawns a recorder that is stopped when the test ends.
func newRecorder(t *testing.T, system *actor.ActorSystem) *recorder {
	t.Helper()
	p := &recorder{root: system.Root, msgs: make(chan envelope, 128)}
	p.pid = system.Root.Spawn(actor.PropsFromFunc(func(c actor.Context) {
		switch c.Message().(type) {
		case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
			return
		}
		p.msgs <- envelope{msg: c.Message(), sender: c.Sender()}
	}))
	t.Cleanup(func() { system.Root.Stop(p.pid) })
	return p
}

// send delivers msg to target with the recorder as the sender.
func (p *recorder) send(target *actor.PID, msg any) {
	p.root.RequestWithCustomSender(target, msg, p.pid)
}

// stop stops the recorder and waits for it to terminate.
func (p *recorder) stop(t *testing.T) {
	t.Helper()
	if err := p.root.StopFuture(p.pid).Wait(); err != nil {
		t.Fatalf("stopping recorder: %v", err)
	}
}

// next waits for the next captured message.
func (p *recorder) next(t *testing.T) envelope {
	t.Helper()
	select {
	case env := <-p.msgs:
		return env
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a message")
		return envelope{}
	}
}

// expectNoMessage waits for d and returns the first message that arrived
// in that window, or nil if none did.
func (p *recorder) expectNoMessage(d time.Duration) any {
	select {
	case env := <-p.msgs:
		return env.msg
	case <-time.After(d):
		return nil
	}
}

// expectMsg waits for the next message on p and asserts its type.
func expectMsg[T any](t *testing.T, p *recorder) T {
	t.Helper()
	env := p.next(t)
	got, ok := env.msg.(T)
	if !ok {
		var want T
		t.Fatalf("message = %#v (%T), want %T", env.msg, env.msg, want)
	}
	return got
}

// ask sends msg to target from the root context and asserts the reply type.
func ask[T any](t *testing.T, root *actor.RootContext, target *actor.PID, msg any) T {
	t.Helper()
	reply, err := root.RequestFuture(target, msg, testWait).Result()
	if err != nil {
		t.Fatalf("request %T to %s: %v", msg, target, err)
	}
	got, ok := reply.(T)
	if !ok {
		var want T
		t.Fatalf("reply = %#v (%T), want %T", reply, reply, want)
	}
	return got
}

// spawn starts a worker that is stopped when the test ends.
func spawn(t *testing.T, system *actor.ActorSystem, props *actor.Props) *actor.PID {
	t.Helper()
	pid := system.Root.Spawn(props)
	t.Cleanup(func() { system.Root.Stop(pid) })
	return pid
}

// waitTerminated fails the test if pid does not terminate in time. It
// returns at once for a worker that is already gone.
func waitTerminated(t *testing.T, root *actor.RootContext, pid *actor.PID) {
	t.Helper()
	done := make(chan struct{})
	watcher := root.Spawn(actor.PropsFromFunc(func(c actor.Context) {
		switch m := c.Message().(type) {
		case *actor.Started:
			c.Watch(pid)
		case *actor.Terminated:
			if m.Who.Id == pid.Id {
				close(done)
			}
		}
	}))
	defer root.Stop(watcher)

	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatalf("worker %s did not terminate", pid)
	}
}

func float(v float64) *float64 {
	return &v
}

// idSet builds the set form used by ReplyDeviceList.
func idSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
