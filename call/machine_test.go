package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

// fakeRig records the order of media, capture and wire operations.
type fakeRig struct {
	ops  []string
	sent []model.MessageType
}

func (r *fakeRig) DialMedia([]webrtc.TrackLocal) error {
	r.ops = append(r.ops, "dial")
	return nil
}

func (r *fakeRig) AnswerMedia([]webrtc.TrackLocal) error {
	r.ops = append(r.ops, "answer")
	return nil
}

func (r *fakeRig) CloseMedia() {
	r.ops = append(r.ops, "close-media")
}

func (r *fakeRig) Send(env model.Envelope) error {
	r.sent = append(r.sent, env.Type)
	return nil
}

type fakeCapture struct {
	rig *fakeRig
}

func (c *fakeCapture) Tracks() []webrtc.TrackLocal { return nil }

func (c *fakeCapture) Close() error {
	c.rig.ops = append(c.rig.ops, "close-capture")
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *fakeRig, *[]Status) {
	t.Helper()
	rig := &fakeRig{}
	var transitions []Status
	logger := zerolog.Nop()
	m := NewMachine(Config{
		Sender:   rig,
		Media:    rig,
		Logger:   &logger,
		OnStatus: func(st Status) { transitions = append(transitions, st) },
	})
	return m, rig, &transitions
}

func TestOutboundCall(t *testing.T) {
	m, rig, transitions := newTestMachine(t)

	if err := m.Start(&fakeCapture{rig: rig}); err != nil {
		t.Fatal(err)
	}
	if m.Status() != StatusOffering {
		t.Errorf("status = %q, want offering", m.Status())
	}
	if len(rig.sent) != 1 || rig.sent[0] != model.MsgCallOffer {
		t.Errorf("sent = %v, want a single CALL_OFFER", rig.sent)
	}

	m.HandleSignal(model.MsgCallAccept)
	if m.Status() != StatusConnected {
		t.Errorf("status = %q, want connected after accept", m.Status())
	}
	want := []Status{StatusOffering, StatusConnected}
	if len(*transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", *transitions, want)
	}
	for i := range want {
		if (*transitions)[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", *transitions, want)
		}
	}
}

func TestInboundCall(t *testing.T) {
	m, rig, _ := newTestMachine(t)

	m.HandleSignal(model.MsgCallOffer)
	if m.Status() != StatusRinging {
		t.Fatalf("status = %q, want ringing", m.Status())
	}

	if err := m.Accept(&fakeCapture{rig: rig}); err != nil {
		t.Fatal(err)
	}
	if m.Status() != StatusConnected {
		t.Errorf("status = %q, want connected", m.Status())
	}
	if len(rig.sent) != 1 || rig.sent[0] != model.MsgCallAccept {
		t.Errorf("sent = %v, want a single CALL_ACCEPT", rig.sent)
	}
	if len(rig.ops) != 1 || rig.ops[0] != "answer" {
		t.Errorf("media ops = %v, want answer", rig.ops)
	}
}

func TestRejectRingingCall(t *testing.T) {
	m, rig, _ := newTestMachine(t)

	m.HandleSignal(model.MsgCallOffer)
	if err := m.Reject(); err != nil {
		t.Fatal(err)
	}
	if m.Status() != StatusIdle {
		t.Errorf("status = %q, want idle after reject", m.Status())
	}
	if len(rig.sent) != 1 || rig.sent[0] != model.MsgCallReject {
		t.Errorf("sent = %v, want a single CALL_REJECT", rig.sent)
	}
}

func TestHangupReleasesCaptureBeforeMedia(t *testing.T) {
	m, rig, transitions := newTestMachine(t)

	if err := m.Start(&fakeCapture{rig: rig}); err != nil {
		t.Fatal(err)
	}
	m.HandleSignal(model.MsgCallAccept)
	rig.ops = nil

	m.End(true)

	if m.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", m.Status())
	}
	want := []string{"close-capture", "close-media"}
	if len(rig.ops) != len(want) {
		t.Fatalf("teardown ops = %v, want %v", rig.ops, want)
	}
	for i := range want {
		if rig.ops[i] != want[i] {
			t.Fatalf("teardown ops = %v, want %v", rig.ops, want)
		}
	}
	if last := rig.sent[len(rig.sent)-1]; last != model.MsgCallEnd {
		t.Errorf("last wire message = %q, want CALL_END", last)
	}
	if last := (*transitions)[len(*transitions)-1]; last != StatusIdle {
		t.Errorf("last transition = %q, want idle", last)
	}
}

func TestRemoteHangup(t *testing.T) {
	m, rig, _ := newTestMachine(t)

	if err := m.Start(&fakeCapture{rig: rig}); err != nil {
		t.Fatal(err)
	}
	m.HandleSignal(model.MsgCallAccept)

	m.HandleSignal(model.MsgCallEnd)
	if m.Status() != StatusIdle {
		t.Errorf("status = %q, want idle after remote hangup", m.Status())
	}
	// No CALL_END echo back to the peer that hung up.
	for _, sent := range rig.sent {
		if sent == model.MsgCallEnd {
			t.Error("hangup was echoed back")
		}
	}
}

func TestNoMediaTransport(t *testing.T) {
	rig := &fakeRig{}
	logger := zerolog.Nop()
	m := NewMachine(Config{Sender: rig, Logger: &logger})

	if err := m.Start(&fakeCapture{rig: rig}); err != ErrNoMedia {
		t.Errorf("start: err = %v, want ErrNoMedia", err)
	}
	m.HandleSignal(model.MsgCallOffer)
	if err := m.Accept(&fakeCapture{rig: rig}); err != ErrNoMedia {
		t.Errorf("accept: err = %v, want ErrNoMedia", err)
	}
	// Declining without a media transport must not blow up.
	if err := m.Reject(); err != nil {
		t.Errorf("reject: %v", err)
	}
	if m.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", m.Status())
	}
}

func TestBusyAndStrayStates(t *testing.T) {
	m, rig, _ := newTestMachine(t)

	if err := m.Start(&fakeCapture{rig: rig}); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(&fakeCapture{rig: rig}); err != ErrBusy {
		t.Errorf("second start: err = %v, want ErrBusy", err)
	}

	// A crossed offer while already calling is ignored.
	m.HandleSignal(model.MsgCallOffer)
	if m.Status() != StatusOffering {
		t.Errorf("status = %q, crossed offer must not change state", m.Status())
	}

	m.End(false)
	if err := m.Accept(&fakeCapture{rig: rig}); err != ErrNoCall {
		t.Errorf("accept while idle: err = %v, want ErrNoCall", err)
	}
	if err := m.Reject(); err != ErrNoCall {
		t.Errorf("reject while idle: err = %v, want ErrNoCall", err)
	}
	// A stray accept with no outbound call pending is ignored.
	m.HandleSignal(model.MsgCallAccept)
	if m.Status() != StatusIdle {
		t.Errorf("status = %q, stray accept must not change state", m.Status())
	}
}
