package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxmorph/voxmorph/internal/call"
	"github.com/voxmorph/voxmorph/internal/config"
	"github.com/voxmorph/voxmorph/internal/history"
	"github.com/voxmorph/voxmorph/pkg/audio"
	audiomock "github.com/voxmorph/voxmorph/pkg/audio/mock"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
	voicemock "github.com/voxmorph/voxmorph/pkg/provider/voice/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a minimal working config with fast recording tuning.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.ElevenLabs.APIKey = "test-key"
	cfg.ElevenLabs.AgentName = "Test Agent"
	cfg.Recording.OutputDir = t.TempDir()
	cfg.Recording.TargetSpeech = 200 * time.Millisecond
	cfg.Recording.MinSpeechRun = 50 * time.Millisecond
	cfg.Recording.SilenceDebounce = 100 * time.Millisecond
	cfg.Audio.InputSampleRate = 16000
	return cfg
}

func testStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// loudFrame returns 100ms of speech-level audio at 16kHz mono.
func loudFrame() audio.Frame {
	const samples = 1600
	data := make([]byte, samples*2)
	for i := range samples {
		data[i*2] = byte(2000)
		data[i*2+1] = byte(2000 >> 8)
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1}
}

type fixtures struct {
	cloner *voicemock.Cloner
	agents *voicemock.AgentManager
	dialer *voicemock.Dialer
	out    *audiomock.OutputStream
	in     *audiomock.InputStream
	store  *history.Store
}

func newTestApp(t *testing.T, cfg *config.Config, f *fixtures) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, testLogger(),
		WithCloner(f.cloner),
		WithAgentManager(f.agents),
		WithDialer(f.dialer),
		WithOutputStream(f.out),
		WithInputStream(f.in),
		WithHistory(f.store),
		WithConsole(strings.NewReader(""), io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

func defaultFixtures(t *testing.T) *fixtures {
	return &fixtures{
		cloner: &voicemock.Cloner{},
		agents: &voicemock.AgentManager{},
		dialer: &voicemock.Dialer{},
		out:    &audiomock.OutputStream{},
		in:     &audiomock.InputStream{},
		store:  testStore(t),
	}
}

func waitState(t *testing.T, a *App, want call.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for a.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %v (currently %v)", want, a.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestChooseVoice(t *testing.T) {
	baseline := voice.Voice{ID: "v-base", Name: "Voice_01_Clone"}
	older := voice.Voice{ID: "v-old", Name: "Call_Voice_20260101_080000"}
	newer := voice.Voice{ID: "v-new", Name: "Call_Voice_20260301_090000"}

	tests := []struct {
		name   string
		voices []voice.Voice
		want   string
		ok     bool
	}{
		{"latest rotated clone wins", []voice.Voice{baseline, older, newer}, "v-new", true},
		{"order independent", []voice.Voice{newer, older}, "v-new", true},
		{"baseline fallback", []voice.Voice{baseline, {ID: "x", Name: "Other"}}, "v-base", true},
		{"nothing usable", []voice.Voice{{ID: "x", Name: "Other"}}, "", false},
		{"empty catalogue", nil, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := chooseVoice(tc.voices, "Voice_01_Clone")
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got.ID != tc.want {
				t.Errorf("chose %q, want %q", got.ID, tc.want)
			}
		})
	}
}

func TestPrepare_UpdatesExistingAgent(t *testing.T) {
	f := defaultFixtures(t)
	f.cloner.ListVoicesResult = []voice.Voice{{ID: "v-1", Name: "Voice_01_Clone"}}
	f.agents.ListAgentsResult = []voice.Agent{{ID: "ag-1", Name: "Test Agent"}}

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)

	if err := a.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if a.agent.ID != "ag-1" {
		t.Errorf("agent = %q, want ag-1", a.agent.ID)
	}
	if len(f.agents.UpdatedVoices) != 1 || f.agents.UpdatedVoices[0] != [2]string{"ag-1", "v-1"} {
		t.Errorf("agent voice updates = %v, want [[ag-1 v-1]]", f.agents.UpdatedVoices)
	}
}

func TestPrepare_CreatesAgentWhenMissing(t *testing.T) {
	f := defaultFixtures(t)
	f.cloner.ListVoicesResult = []voice.Voice{{ID: "v-1", Name: "Voice_01_Clone"}}
	f.agents.CreateAgentResult = &voice.Agent{ID: "ag-new", Name: "Test Agent"}

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)

	if err := a.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if a.agent.ID != "ag-new" {
		t.Errorf("agent = %q, want ag-new", a.agent.ID)
	}
	if len(f.agents.UpdatedVoices) != 0 {
		t.Errorf("fresh agent should not be re-pointed, got %v", f.agents.UpdatedVoices)
	}
}

func TestPrepare_RecordsBaselineWhenNoVoice(t *testing.T) {
	f := defaultFixtures(t)
	f.cloner.CloneVoiceResult = &voice.Voice{ID: "v-base", Name: "Voice_01_Clone"}
	f.agents.CreateAgentResult = &voice.Agent{ID: "ag-1", Name: "Test Agent"}
	for range 5 {
		f.in.Frames = append(f.in.Frames, loudFrame())
	}

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)

	if err := a.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(f.cloner.ClonedNames) != 1 || f.cloner.ClonedNames[0] != "Voice_01_Clone" {
		t.Errorf("cloned names = %v, want [Voice_01_Clone]", f.cloner.ClonedNames)
	}
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur.ID != "v-base" {
		t.Errorf("current voice = %q, want v-base", cur.ID)
	}
}

func TestPrepare_RecoversVoiceFromHistory(t *testing.T) {
	f := defaultFixtures(t)
	// The only clone was renamed in the dashboard, so neither the rotation
	// prefix nor the baseline name matches. History still knows its ID.
	f.cloner.ListVoicesResult = []voice.Voice{{ID: "v-hist", Name: "My Renamed Voice"}}
	f.agents.ListAgentsResult = []voice.Agent{{ID: "ag-1", Name: "Test Agent"}}
	if _, err := f.store.Add(context.Background(), history.Record{
		AgentID:   "ag-1",
		VoiceID:   "v-hist",
		VoiceName: "Call_Voice_20260830_110000",
		StartedAt: time.Now().Add(-time.Hour),
		Duration:  time.Minute,
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)

	if err := a.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur.ID != "v-hist" {
		t.Errorf("current voice = %q, want v-hist", cur.ID)
	}
	if len(f.cloner.ClonedNames) != 0 {
		t.Errorf("no baseline recording should start, cloned %v", f.cloner.ClonedNames)
	}
}

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sample.wav")
	if err := os.WriteFile(path, []byte("riff-payload"), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestRotateVoice_ClonesAndDeletesPrevious(t *testing.T) {
	f := defaultFixtures(t)
	f.cloner.CloneVoiceResult = &voice.Voice{ID: "v-new", Name: "Call_Voice_20260831_120000"}

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)
	a.agent = voice.Agent{ID: "ag-1", Name: "Test Agent"}
	a.current = voice.Voice{ID: "v-prev", Name: "Call_Voice_20260830_110000"}
	a.lastSample = writeSample(t, t.TempDir())

	a.rotateVoice(context.Background())

	if len(f.cloner.ClonedNames) != 1 || !strings.HasPrefix(f.cloner.ClonedNames[0], "Call_Voice_") {
		t.Errorf("cloned names = %v, want one Call_Voice_*", f.cloner.ClonedNames)
	}
	if len(f.agents.UpdatedVoices) != 1 || f.agents.UpdatedVoices[0] != [2]string{"ag-1", "v-new"} {
		t.Errorf("agent voice updates = %v", f.agents.UpdatedVoices)
	}
	if len(f.cloner.DeletedIDs) != 1 || f.cloner.DeletedIDs[0] != "v-prev" {
		t.Errorf("deleted = %v, want [v-prev]", f.cloner.DeletedIDs)
	}
	if a.current.ID != "v-new" {
		t.Errorf("current voice = %q, want v-new", a.current.ID)
	}
}

func TestRotateVoice_NeverDeletesBaseline(t *testing.T) {
	f := defaultFixtures(t)
	f.cloner.CloneVoiceResult = &voice.Voice{ID: "v-new", Name: "Call_Voice_20260831_120000"}

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)
	a.agent = voice.Agent{ID: "ag-1"}
	a.current = voice.Voice{ID: "v-base", Name: cfg.ElevenLabs.BaselineVoice}
	a.lastSample = writeSample(t, t.TempDir())

	a.rotateVoice(context.Background())

	if len(f.cloner.DeletedIDs) != 0 {
		t.Errorf("baseline must survive rotation, deleted %v", f.cloner.DeletedIDs)
	}
	if a.current.ID != "v-new" {
		t.Errorf("current voice = %q, want v-new", a.current.ID)
	}
}

func TestRotateVoice_NoSampleIsNoOp(t *testing.T) {
	f := defaultFixtures(t)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)
	a.current = voice.Voice{ID: "v-prev", Name: "Call_Voice_20260830_110000"}

	a.rotateVoice(context.Background())

	if len(f.cloner.ClonedNames) != 0 {
		t.Errorf("no sample should mean no clone, got %v", f.cloner.ClonedNames)
	}
}

// limitOnceCloner fails the first CloneVoice with the provider's voice-slot
// error, then delegates.
type limitOnceCloner struct {
	*voicemock.Cloner
	failed bool
}

func (c *limitOnceCloner) CloneVoice(ctx context.Context, name string, sample io.Reader) (*voice.Voice, error) {
	if !c.failed {
		c.failed = true
		return nil, voice.ErrVoiceLimitReached
	}
	return c.Cloner.CloneVoice(ctx, name, sample)
}

func TestRotateVoice_VoiceLimitFreesSlotAndRetries(t *testing.T) {
	inner := &voicemock.Cloner{
		CloneVoiceResult: &voice.Voice{ID: "v-new", Name: "Call_Voice_20260831_120000"},
		ListVoicesResult: []voice.Voice{
			{ID: "v-oldest", Name: "Call_Voice_20250101_000000"},
			{ID: "v-prev", Name: "Call_Voice_20260830_110000"},
		},
	}
	f := defaultFixtures(t)
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, testLogger(),
		WithCloner(&limitOnceCloner{Cloner: inner}),
		WithAgentManager(f.agents),
		WithDialer(f.dialer),
		WithOutputStream(f.out),
		WithInputStream(f.in),
		WithHistory(f.store),
		WithConsole(strings.NewReader(""), io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	a.agent = voice.Agent{ID: "ag-1"}
	a.current = voice.Voice{ID: "v-prev", Name: "Call_Voice_20260830_110000"}
	a.lastSample = writeSample(t, t.TempDir())

	a.rotateVoice(context.Background())

	// The oldest clone is sacrificed, the retry succeeds, and the previous
	// voice is replaced as usual.
	wantDeleted := map[string]bool{"v-oldest": true, "v-prev": true}
	if len(inner.DeletedIDs) != 2 {
		t.Fatalf("deleted = %v, want v-oldest and v-prev", inner.DeletedIDs)
	}
	for _, id := range inner.DeletedIDs {
		if !wantDeleted[id] {
			t.Errorf("unexpected deletion %q", id)
		}
	}
	if a.current.ID != "v-new" {
		t.Errorf("current voice = %q, want v-new", a.current.ID)
	}
}

func TestHangup_RecordsHistory(t *testing.T) {
	sess := voicemock.NewSession()
	f := defaultFixtures(t)
	f.dialer.Session = sess

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)
	a.agent = voice.Agent{ID: "ag-1", Name: "Test Agent"}
	a.current = voice.Voice{ID: "v-1", Name: "Voice_01_Clone"}

	if err := a.StartCall(context.Background(), ""); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitState(t, a, call.Active)

	if err := a.Hangup(context.Background()); err != nil {
		t.Fatalf("Hangup: %v", err)
	}

	records, err := f.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("history records = %d, want 1", len(records))
	}
	if records[0].VoiceID != "v-1" {
		t.Errorf("voice id = %q, want v-1", records[0].VoiceID)
	}
	if records[0].TeardownOutcome != "completed" {
		t.Errorf("teardown outcome = %q, want completed", records[0].TeardownOutcome)
	}
}

func TestStartCall_PropagatesBusy(t *testing.T) {
	sess := voicemock.NewSession()
	f := defaultFixtures(t)
	f.dialer.Session = sess

	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)
	a.agent = voice.Agent{ID: "ag-1"}

	if err := a.StartCall(context.Background(), ""); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitState(t, a, call.Active)
	if err := a.StartCall(context.Background(), ""); !errors.Is(err, call.ErrCallInProgress) {
		t.Errorf("second StartCall = %v, want ErrCallInProgress", err)
	}
	a.Hangup(context.Background())
}

func TestSaveCallSample(t *testing.T) {
	f := defaultFixtures(t)
	cfg := testConfig(t)
	cfg.Audio.InputSampleRate = 1000
	a := newTestApp(t, cfg, f)

	// 6 seconds at 1kHz mono 16-bit.
	long := make([]byte, 6*1000*2)
	a.saveCallSample(long)

	a.mu.Lock()
	path := a.lastSample
	a.mu.Unlock()
	if path == "" {
		t.Fatal("long capture should be saved as the rotation sample")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved sample missing: %v", err)
	}
}

func TestSaveCallSample_SkipsShortCapture(t *testing.T) {
	f := defaultFixtures(t)
	cfg := testConfig(t)
	cfg.Audio.InputSampleRate = 1000
	a := newTestApp(t, cfg, f)

	short := make([]byte, 1000*2) // one second
	a.saveCallSample(short)

	a.mu.Lock()
	path := a.lastSample
	a.mu.Unlock()
	if path != "" {
		t.Errorf("short capture should be discarded, got %q", path)
	}
}

func TestRun_QuitExits(t *testing.T) {
	f := defaultFixtures(t)
	f.cloner.ListVoicesResult = []voice.Voice{{ID: "v-1", Name: "Voice_01_Clone"}}
	f.agents.ListAgentsResult = []voice.Agent{{ID: "ag-1", Name: "Test Agent"}}

	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, testLogger(),
		WithCloner(f.cloner),
		WithAgentManager(f.agents),
		WithDialer(f.dialer),
		WithOutputStream(f.out),
		WithInputStream(f.in),
		WithHistory(f.store),
		WithConsole(strings.NewReader("status\nquit\n"), io.Discard),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after quit")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	f := defaultFixtures(t)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, f)

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
