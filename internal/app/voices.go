package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxmorph/voxmorph/internal/call"
	"github.com/voxmorph/voxmorph/internal/history"
	"github.com/voxmorph/voxmorph/internal/observe"
	"github.com/voxmorph/voxmorph/internal/recorder"
	"github.com/voxmorph/voxmorph/pkg/audio"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
)

// rotatedVoicePrefix names the temporary clones created after each call.
// The timestamp suffix sorts lexicographically, so the newest clone is the
// greatest name.
const rotatedVoicePrefix = "Call_Voice_"

const voiceTimestampLayout = "20060102_150405"

// minCallSample is the least in-call audio worth cloning from.
const minCallSample = 5 * time.Second

// Prepare makes sure the account has a usable voice and an agent pointing at
// it. Called once before the control loops start.
func (a *App) Prepare(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "app.prepare")
	defer span.End()

	voices, err := a.cloner.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("app: listing voices: %w", err)
	}

	cur, ok := chooseVoice(voices, a.cfg.ElevenLabs.BaselineVoice)
	if !ok {
		cur, ok = a.voiceFromHistory(ctx, voices)
	}
	if !ok {
		v, err := a.recordBaseline(ctx)
		if err != nil {
			return err
		}
		cur = *v
	}
	a.mu.Lock()
	a.current = cur
	a.mu.Unlock()
	a.log.Info("using voice", slog.String("name", cur.Name), slog.String("id", cur.ID))

	return a.ensureAgent(ctx, cur)
}

// chooseVoice picks the voice to call with: the most recent rotated clone if
// one exists, otherwise the protected baseline.
func chooseVoice(voices []voice.Voice, baseline string) (voice.Voice, bool) {
	var best voice.Voice
	var found bool
	for _, v := range voices {
		if !strings.HasPrefix(v.Name, rotatedVoicePrefix) {
			continue
		}
		if !found || v.Name > best.Name {
			best = v
			found = true
		}
	}
	if found {
		return best, true
	}
	for _, v := range voices {
		if v.Name == baseline {
			return v, true
		}
	}
	return voice.Voice{}, false
}

// voiceFromHistory recovers the voice the last call used when the catalogue
// names alone give no answer, e.g. after a clone was renamed in the
// ElevenLabs dashboard. The ID must still exist in the catalogue.
func (a *App) voiceFromHistory(ctx context.Context, voices []voice.Voice) (voice.Voice, bool) {
	id, name, err := a.store.LastVoice(ctx)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			a.log.Warn("reading last voice from history", slog.String("error", err.Error()))
		}
		return voice.Voice{}, false
	}
	for _, v := range voices {
		if v.ID == id {
			a.log.Info("recovered voice from call history",
				slog.String("id", id), slog.String("last_known_name", name))
			return v, true
		}
	}
	return voice.Voice{}, false
}

// recordBaseline captures a fresh voice sample from the microphone and clones
// it as the protected baseline voice.
func (a *App) recordBaseline(ctx context.Context) (*voice.Voice, error) {
	a.log.Info("no usable voice found, recording a baseline sample",
		slog.Duration("target_speech", a.cfg.Recording.TargetSpeech))

	res, err := a.rec.Record(ctx, "baseline_sample.wav")
	if err != nil {
		if errors.Is(err, recorder.ErrInsufficientSpeech) {
			return nil, fmt.Errorf("app: baseline sample too short, try again in a quieter room: %w", err)
		}
		return nil, fmt.Errorf("app: recording baseline sample: %w", err)
	}

	v, err := a.cloneFromFile(ctx, a.cfg.ElevenLabs.BaselineVoice, res.Path)
	if err != nil {
		return nil, fmt.Errorf("app: cloning baseline voice: %w", err)
	}
	a.log.Info("baseline voice cloned", slog.String("id", v.ID))
	return v, nil
}

// ensureAgent finds the configured agent (tolerating close name matches) or
// creates it, and points it at the given voice.
func (a *App) ensureAgent(ctx context.Context, v voice.Voice) error {
	agents, err := a.agentAPI.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("app: listing agents: %w", err)
	}

	if found, ok := voice.BestAgentMatch(a.cfg.ElevenLabs.AgentName, agents); ok {
		a.agent = found
		if err := a.agentAPI.UpdateAgentVoice(ctx, found.ID, v.ID); err != nil {
			return fmt.Errorf("app: updating agent voice: %w", err)
		}
		a.log.Info("agent ready", slog.String("name", found.Name), slog.String("id", found.ID))
		return nil
	}

	created, err := a.agentAPI.CreateAgent(ctx, voice.AgentConfig{
		Name:         a.cfg.ElevenLabs.AgentName,
		VoiceID:      v.ID,
		FirstMessage: a.cfg.ElevenLabs.FirstMessage,
		SystemPrompt: a.cfg.ElevenLabs.AgentPrompt,
		Language:     a.cfg.ElevenLabs.AgentLanguage,
	})
	if err != nil {
		return fmt.Errorf("app: creating agent: %w", err)
	}
	a.agent = *created
	a.log.Info("agent created", slog.String("name", created.Name), slog.String("id", created.ID))
	return nil
}

// rotateVoice clones the latest in-call recording as a fresh temporary
// voice, points the agent at it, and deletes the clone it replaces. The
// protected baseline is never deleted. Failures leave the previous voice in
// place; the next call simply speaks with the older clone.
func (a *App) rotateVoice(ctx context.Context) {
	ctx, span := observe.StartSpan(ctx, "voice.rotate")
	defer span.End()

	a.mu.Lock()
	sample := a.lastSample
	a.lastSample = ""
	prev := a.current
	a.mu.Unlock()

	if sample == "" {
		return
	}

	name := rotatedVoicePrefix + time.Now().Format(voiceTimestampLayout)
	v, err := a.cloneFromFile(ctx, name, sample)
	if errors.Is(err, voice.ErrVoiceLimitReached) {
		if freed := a.freeVoiceSlot(ctx, prev.ID); freed {
			v, err = a.cloneFromFile(ctx, name, sample)
		}
	}
	if err != nil {
		a.log.Warn("voice rotation failed, keeping current voice",
			slog.String("error", err.Error()))
		return
	}

	if err := a.agentAPI.UpdateAgentVoice(ctx, a.agent.ID, v.ID); err != nil {
		a.log.Warn("pointing agent at rotated voice", slog.String("error", err.Error()))
		// The new clone is orphaned; drop it rather than leak a slot.
		if delErr := a.cloner.DeleteVoice(ctx, v.ID); delErr != nil {
			a.log.Warn("deleting orphaned clone", slog.String("error", delErr.Error()))
		}
		return
	}

	a.mu.Lock()
	a.current = *v
	a.mu.Unlock()

	if prev.ID != "" && prev.ID != v.ID && prev.Name != a.cfg.ElevenLabs.BaselineVoice {
		if err := a.cloner.DeleteVoice(ctx, prev.ID); err != nil {
			a.log.Warn("deleting replaced voice", slog.String("id", prev.ID), slog.String("error", err.Error()))
		}
	}
	a.log.Info("voice rotated", slog.String("name", v.Name), slog.String("id", v.ID))
}

// freeVoiceSlot deletes the oldest rotated clone to make room for a new one.
// Returns false when there is nothing safe to delete.
func (a *App) freeVoiceSlot(ctx context.Context, keepID string) bool {
	voices, err := a.cloner.ListVoices(ctx)
	if err != nil {
		a.log.Warn("listing voices to free a slot", slog.String("error", err.Error()))
		return false
	}

	var oldest voice.Voice
	var found bool
	for _, v := range voices {
		if !strings.HasPrefix(v.Name, rotatedVoicePrefix) || v.ID == keepID {
			continue
		}
		if !found || v.Name < oldest.Name {
			oldest = v
			found = true
		}
	}
	if !found {
		return false
	}
	if err := a.cloner.DeleteVoice(ctx, oldest.ID); err != nil {
		a.log.Warn("deleting oldest clone", slog.String("id", oldest.ID), slog.String("error", err.Error()))
		return false
	}
	a.log.Info("freed a voice slot", slog.String("name", oldest.Name))
	return true
}

func (a *App) cloneFromFile(ctx context.Context, name, path string) (*voice.Voice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sample %s: %w", path, err)
	}
	defer f.Close()
	return a.cloner.CloneVoice(ctx, name, f)
}

// micLoop runs for the duration of one call: it forwards microphone audio to
// the live session (converted to the stream format) and keeps a copy of the
// raw capture as the sample for post-call voice rotation.
func (a *App) micLoop() {
	if err := a.in.Start(); err != nil {
		a.log.Warn("starting microphone", slog.String("error", err.Error()))
		return
	}
	defer func() {
		if err := a.in.Stop(); err != nil {
			a.log.Warn("stopping microphone", slog.String("error", err.Error()))
		}
	}()

	conv := &audio.FormatConverter{Target: audio.Format{
		SampleRate: a.cfg.Audio.StreamSampleRate,
		Channels:   a.cfg.Audio.StreamChannels,
	}}

	// Bound the kept copy by the recorder's total cap.
	maxBytes := int(a.cfg.Recording.MaxTotal.Seconds()) *
		a.cfg.Audio.InputSampleRate * a.cfg.Audio.InputChannels * 2

	var captured []byte
	ctx := context.Background()

	for a.ctrl.State() == call.Active {
		frame, err := a.in.Read()
		if err != nil {
			a.log.Debug("microphone read ended", slog.String("error", err.Error()))
			break
		}
		if len(captured) < maxBytes {
			captured = append(captured, frame.Data...)
		}
		out := conv.Convert(frame)
		if err := a.ctrl.Send(ctx, out.Data); err != nil {
			if errors.Is(err, call.ErrNoActiveCall) {
				break
			}
			a.log.Warn("sending microphone audio", slog.String("error", err.Error()))
		}
	}

	a.saveCallSample(captured)
}

// saveCallSample writes the in-call capture as the rotation sample, skipping
// recordings too short to clone from.
func (a *App) saveCallSample(pcm []byte) {
	rate := a.cfg.Audio.InputSampleRate
	channels := a.cfg.Audio.InputChannels
	dur := time.Duration(len(pcm)/(rate*channels*2)) * time.Second
	if dur < minCallSample {
		a.log.Debug("in-call capture too short for rotation", slog.Duration("duration", dur))
		return
	}

	if err := os.MkdirAll(a.cfg.Recording.OutputDir, 0o755); err != nil {
		a.log.Warn("creating recordings dir", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(a.cfg.Recording.OutputDir,
		"call_"+time.Now().Format(voiceTimestampLayout)+".wav")
	if err := recorder.WriteWAV(path, pcm, rate, channels); err != nil {
		a.log.Warn("saving in-call recording", slog.String("error", err.Error()))
		return
	}

	a.mu.Lock()
	a.lastSample = path
	a.mu.Unlock()
	a.log.Info("in-call recording saved", slog.String("path", path), slog.Duration("duration", dur))
}
