package media

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/large-farva/poise/internal/clock"
)

func TestSyntheticAcquireAndRelease(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	dev := NewSynthetic(clk)

	st, err := dev.Acquire(context.Background(), Constraints{Width: 64, Height: 48, Audio: true, SampleRate: 8000})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(st.Tracks()) != 2 || len(st.AudioTracks()) != 1 {
		t.Fatalf("tracks = %d, audio = %d", len(st.Tracks()), len(st.AudioTracks()))
	}

	f, ok := st.Frame()
	if !ok || f.Image.Bounds().Dx() != 64 || f.Image.Bounds().Dy() != 48 {
		t.Fatalf("unexpected frame %+v ok=%v", f, ok)
	}

	// A second owner is refused while the first stream is live.
	if _, err := dev.Acquire(context.Background(), Constraints{}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second acquire err = %v, want busy", err)
	}

	st.Stop()
	st.Stop()
	for _, tr := range st.Tracks() {
		if tr.Live() {
			t.Fatalf("track %s still live after Stop", tr.Label())
		}
	}
	if _, ok := st.Frame(); ok {
		t.Fatal("stopped stream still yields frames")
	}

	st2, err := dev.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("re-acquire after stop: %v", err)
	}
	st2.Stop()
}

func TestSyntheticDenied(t *testing.T) {
	dev := NewSynthetic(nil)
	dev.Deny = true
	_, err := dev.Acquire(context.Background(), Constraints{Audio: true})

	var acq *AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("err = %v, want AcquisitionError", err)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}
}

func TestSyntheticToneDrainTracksElapsedTime(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	dev := NewSynthetic(clk)
	st, err := dev.Acquire(context.Background(), Constraints{Audio: true, SampleRate: 8000})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Stop()
	track := st.AudioTracks()[0]

	if got := track.Drain(); len(got) != 0 {
		t.Fatalf("drain before time passes = %d samples", len(got))
	}
	clk.Advance(250 * time.Millisecond)
	if got := track.Drain(); len(got) != 2000 {
		t.Fatalf("drain after 250ms = %d samples, want 2000", len(got))
	}
}

func TestSyntheticNoAudio(t *testing.T) {
	dev := NewSynthetic(nil)
	dev.NoAudio = true
	st, err := dev.Acquire(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Stop()
	if len(st.AudioTracks()) != 0 {
		t.Fatal("expected a video-only stream")
	}
}

func TestRelayRequiresPublisher(t *testing.T) {
	r := NewRelay()
	if _, err := r.Acquire(context.Background(), Constraints{Audio: true}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}

	r.Connect(16000)
	st, err := r.Acquire(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok := st.Frame(); ok {
		t.Fatal("frame before any publish")
	}

	r.PublishFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)), time.Now())
	if f, ok := st.Frame(); !ok || f.Seq != 1 {
		t.Fatalf("frame = %+v ok=%v", f, ok)
	}

	r.PublishAudio([]int16{1, 2, 3})
	r.PublishAudio([]int16{4})
	audio := st.AudioTracks()
	if len(audio) != 1 {
		t.Fatalf("audio tracks = %d", len(audio))
	}
	if got := audio[0].Drain(); len(got) != 4 || got[3] != 4 {
		t.Fatalf("drain = %v", got)
	}
	if got := audio[0].Drain(); len(got) != 0 {
		t.Fatalf("second drain = %v", got)
	}

	st.Stop()
	if got := audio[0].Drain(); got != nil {
		t.Fatalf("drain after stop = %v", got)
	}
	st2, err := r.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	st2.Stop()
}

func TestRelayVideoOnlyPublisher(t *testing.T) {
	r := NewRelay()
	r.Connect(0)
	st, err := r.Acquire(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Stop()
	if len(st.AudioTracks()) != 0 {
		t.Fatal("video-only publisher produced an audio track")
	}
}
