package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/large-farva/poise/internal/analysis"
	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/config"
	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
)

type fakeSubmitter struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeSubmitter) Submit(context.Context, analysis.Payload) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{Status: 200, Body: json.RawMessage(`{"score":8}`)}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Video.Width, cfg.Video.Height = 64, 48
	cfg.Video.HostFPS, cfg.Video.TargetFPS = 20, 10
	cfg.Session.ThinkingSeconds = 0
	cfg.Session.ResponseSeconds = 30
	cfg.Audio.SampleRate = 8000
	cfg.Analysis.URL = ""
	cfg.Demo.AutoStart = false
	return cfg
}

type testApp struct {
	*App
	srv  *httptest.Server
	sub  *fakeSubmitter
	hook *test.Hook
}

func newTestApp(t *testing.T, cfg config.Config, configPath string) *testApp {
	t.Helper()
	log, hook := test.NewNullLogger()
	sub := &fakeSubmitter{}
	a, err := New(Options{Logger: log, Cfg: cfg, ConfigPath: configPath, Submitter: sub})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.start(ctx)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-a.manager.Done()
	})
	return &testApp{App: a, srv: srv, sub: sub, hook: hook}
}

func (ta *testApp) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, ta.srv.URL+path, rd)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (ta *testApp) phase(t *testing.T) string {
	t.Helper()
	_, st := ta.do(t, http.MethodGet, "/api/status", nil)
	sess, _ := st["session"].(map[string]any)
	p, _ := sess["phase"].(string)
	return p
}

func (ta *testApp) waitPhase(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for ta.phase(t) != want {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s, want %s", ta.phase(t), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	ta := newTestApp(t, testConfig(), "")

	resp, err := http.Get(ta.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plain healthz = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ta.srv.URL+"/healthz", nil)
	req.Header.Set("Accept", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || !body.Healthy {
		t.Fatalf("detailed healthz = %d %+v", resp.StatusCode, body)
	}
	for _, k := range []string{"session_manager", "detector", "media", "analysis"} {
		if _, ok := body.Checks[k]; !ok {
			t.Fatalf("missing check %s", k)
		}
	}
}

func TestMissingDetectorIsUnhealthy(t *testing.T) {
	cfg := testConfig()
	cfg.Detector.Kind = "none"
	ta := newTestApp(t, cfg, "")

	req, _ := http.NewRequest(http.MethodGet, ta.srv.URL+"/healthz", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	_, st := ta.do(t, http.MethodGet, "/api/status", nil)
	det := st["detector"].(map[string]any)
	if det["ready"] != false || det["error"] == nil {
		t.Fatalf("detector = %v", det)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ta := newTestApp(t, testConfig(), "")

	code, res := ta.do(t, http.MethodPost, "/api/session/start", map[string]string{
		"prompt_id":   "q-1",
		"prompt_text": "Describe a failure.",
	})
	if code != http.StatusOK || res["ok"] != true {
		t.Fatalf("start = %d %v", code, res)
	}
	if p := ta.phase(t); p != "response" {
		t.Fatalf("phase = %s", p)
	}

	if code, res := ta.do(t, http.MethodPost, "/api/session/start", nil); code != http.StatusConflict {
		t.Fatalf("second start = %d %v", code, res)
	}
	if code, _ := ta.do(t, http.MethodGet, "/api/session/metrics", nil); code != http.StatusOK {
		t.Fatalf("metrics = %d", code)
	}

	time.Sleep(300 * time.Millisecond)
	if code, res := ta.do(t, http.MethodPost, "/api/session/end", nil); code != http.StatusOK {
		t.Fatalf("end = %d %v", code, res)
	}
	ta.waitPhase(t, "done")

	code, res = ta.do(t, http.MethodGet, "/api/session/analysis", nil)
	if code != http.StatusOK {
		t.Fatalf("analysis = %d %v", code, res)
	}
	data := res["data"].(map[string]any)
	summary := data["summary"].(map[string]any)
	if summary["prompt_id"] != "q-1" || summary["ended_early"] != true {
		t.Fatalf("summary = %v", summary)
	}

	code, res = ta.do(t, http.MethodGet, "/api/session/timelines?format=pairs", nil)
	if code != http.StatusOK {
		t.Fatalf("timelines = %d", code)
	}
	if _, ok := res["data"].(map[string]any)["posture_timeline"]; !ok {
		t.Fatalf("timelines = %v", res)
	}
	if code, _ := ta.do(t, http.MethodGet, "/api/session/timelines?format=csv", nil); code != http.StatusBadRequest {
		t.Fatalf("bad format = %d", code)
	}

	_, stats := ta.do(t, http.MethodGet, "/api/stats", nil)
	if stats["completed_sessions"] != float64(1) || stats["last_session"] == nil {
		t.Fatalf("stats = %v", stats)
	}
	if ta.sub.n != 1 {
		t.Fatalf("submissions = %d", ta.sub.n)
	}

	if code, _ := ta.do(t, http.MethodPost, "/api/session/restart", nil); code != http.StatusOK {
		t.Fatalf("restart = %d", code)
	}
	if p := ta.phase(t); p != "idle" {
		t.Fatalf("after restart phase = %s", p)
	}
}

func TestCommandErrorsMapToStatusCodes(t *testing.T) {
	ta := newTestApp(t, testConfig(), "")

	if code, res := ta.do(t, http.MethodPost, "/api/session/end", nil); code != http.StatusConflict || res["ok"] != false {
		t.Fatalf("end while idle = %d %v", code, res)
	}
	if code, _ := ta.do(t, http.MethodGet, "/api/session/analysis", nil); code != http.StatusNotFound {
		t.Fatalf("analysis before any session = %d", code)
	}
	if code, _ := ta.do(t, http.MethodGet, "/api/session/start", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET start = %d", code)
	}

	req, _ := http.NewRequest(http.MethodPost, ta.srv.URL+"/api/session/start", strings.NewReader("{"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body = %d", resp.StatusCode)
	}
}

func TestReloadAppliesSessionTimings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poise.toml")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("[session]\nthinking_seconds = 0\nresponse_seconds = 30\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Video = testConfig().Video
	ta := newTestApp(t, cfg, path)

	write("[session]\nthinking_seconds = 7\nresponse_seconds = 30\n[video]\nwidth = 64\nheight = 48\n")
	if code, res := ta.do(t, http.MethodPost, "/api/reload", nil); code != http.StatusOK {
		t.Fatalf("reload = %d %v", code, res)
	}
	_, cfgOut := ta.do(t, http.MethodGet, "/api/config", nil)
	if cfgOut["session"].(map[string]any)["thinking_seconds"] != float64(7) {
		t.Fatalf("config = %v", cfgOut["session"])
	}

	ta.do(t, http.MethodPost, "/api/session/start", nil)
	_, st := ta.do(t, http.MethodGet, "/api/status", nil)
	sess := st["session"].(map[string]any)
	if sess["phase"] != "thinking" || sess["time_left"] != float64(7) {
		t.Fatalf("session = %v", sess)
	}

	if code, _ := ta.do(t, http.MethodPost, "/api/reload", nil); code != http.StatusConflict {
		t.Fatalf("reload while active = %d", code)
	}

	write("[session]\nresponse_seconds = 0\n")
	ta.do(t, http.MethodPost, "/api/session/restart", nil)
	if code, _ := ta.do(t, http.MethodPost, "/api/reload", nil); code != http.StatusBadRequest {
		t.Fatalf("invalid reload = %d", code)
	}
}

func TestReloadKeepsRestartOnlySections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poise.toml")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("[session]\nthinking_seconds = 2\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Video = testConfig().Video
	ta := newTestApp(t, cfg, path)

	write("[session]\nthinking_seconds = 4\n" +
		"[smoothing]\nalpha = 0.5\n" +
		"[posture.weights]\ntilt = 0.5\nhead = 0.25\nneck = 0.25\n")
	code, res := ta.do(t, http.MethodPost, "/api/reload", nil)
	if code != http.StatusOK {
		t.Fatalf("reload = %d %v", code, res)
	}
	pending := map[string]bool{}
	for _, s := range res["pending_restart"].([]any) {
		pending[s.(string)] = true
	}
	if !pending["smoothing"] || !pending["posture"] || pending["eye"] {
		t.Fatalf("pending_restart = %v", res["pending_restart"])
	}

	_, got := ta.do(t, http.MethodGet, "/api/config", nil)
	if got["session"].(map[string]any)["thinking_seconds"] != float64(4) {
		t.Fatalf("session = %v", got["session"])
	}
	if got["smoothing"].(map[string]any)["alpha"] != cfg.Smoothing.Alpha {
		t.Fatalf("smoothing = %v, running loop still uses %v", got["smoothing"], cfg.Smoothing.Alpha)
	}
	w := got["posture"].(map[string]any)["weights"].(map[string]any)
	if w["tilt"] != cfg.Posture.Weights.Tilt {
		t.Fatalf("posture weights = %v", w)
	}
}

func TestLogsEndpointFilters(t *testing.T) {
	ta := newTestApp(t, testConfig(), "")
	ta.log.WithField("component", "test").Warn("first warning")
	ta.log.Info("noise")
	ta.log.WithField("component", "test").Warn("second warning")

	_, res := ta.do(t, http.MethodGet, "/api/logs?level=warning&limit=1", nil)
	logs := res["logs"].([]any)
	if len(logs) != 1 {
		t.Fatalf("logs = %v", logs)
	}
	e := logs[0].(map[string]any)
	if e["message"] != "second warning" || e["component"] != "test" {
		t.Fatalf("entry = %v", e)
	}
}

func TestLogRingWraps(t *testing.T) {
	var emitted int
	r := newLogRing(2, func(any) { emitted++ })
	for _, msg := range []string{"a", "b", "c"} {
		_ = r.Fire(&logrus.Entry{Message: msg, Level: logrus.InfoLevel, Data: logrus.Fields{"err": errors.New("x")}})
	}
	got := r.snapshot()
	if len(got) != 2 || got[0].Message != "b" || got[1].Message != "c" {
		t.Fatalf("ring = %+v", got)
	}
	if got[1].Fields["err"] != "x" || emitted != 3 {
		t.Fatalf("fields = %v emitted = %d", got[1].Fields, emitted)
	}
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIngestSinkFeedsRelayAndDetector(t *testing.T) {
	relay := media.NewRelay()
	remote := landmark.NewRemote(nil, time.Second)
	sink := &ingestSink{clock: clock.Real{}, relay: relay, remote: remote}

	sink.Connect(8000)
	st, err := relay.Acquire(context.Background(), media.Constraints{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Stop()

	if err := sink.Frame(jpegBytes(t)); err != nil {
		t.Fatal(err)
	}
	if f, ok := st.Frame(); !ok || f.Image.Bounds().Dx() != 8 {
		t.Fatal("frame not relayed")
	}
	if err := sink.Frame([]byte("not a jpeg")); err == nil {
		t.Fatal("garbage frame accepted")
	}

	if err := sink.Audio([]byte{0x01, 0x00, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	got := st.AudioTracks()[0].Drain()
	if len(got) != 2 || got[0] != 1 || got[1] != -1 {
		t.Fatalf("samples = %v", got)
	}
	if err := sink.Audio([]byte{1, 2, 3}); !errors.Is(err, errOddAudioPayload) {
		t.Fatalf("odd payload: %v", err)
	}

	w := landmark.WireDetection{PoseLandmarks: [][]landmark.WirePoint{{{X: 0.5, Y: 0.5}}}}
	if err := sink.Landmarks(w); err != nil {
		t.Fatal(err)
	}
	if d, _ := remote.Detect(nil, 0); len(d.Pose) != 1 {
		t.Fatalf("detection = %+v", d)
	}

	sink.Disconnect()
	if relay.Connected() {
		t.Fatal("still connected")
	}
}

func TestIngestSinkRejectsUnusedInputs(t *testing.T) {
	sink := &ingestSink{clock: clock.Real{}}
	if err := sink.Frame(nil); !errors.Is(err, errRelayDisabled) {
		t.Fatalf("frame: %v", err)
	}
	if err := sink.Landmarks(landmark.WireDetection{}); !errors.Is(err, errRemoteDisabled) {
		t.Fatalf("landmarks: %v", err)
	}
}
