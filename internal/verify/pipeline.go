// Package verify runs one attendance verification attempt end to end.
package verify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/evidence"
	"github.com/your-org/attendance/internal/geo"
	"github.com/your-org/attendance/internal/guard"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/policy"
	"github.com/your-org/attendance/internal/storage"
)

// kioskCandidates bounds how many staff the descriptor index proposes.
const kioskCandidates = 5

// Detector runs face detection and embedding on one frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (*models.FaceDetection, error)
}

// Attempt is one verification request. An empty StaffID identifies the
// person among all active profiles. EventID, when set, is the idempotency
// key of the resulting event; otherwise a fresh one is generated.
type Attempt struct {
	Action  models.Action
	StaffID string
	Frame   image.Image
	EventID string
}

type Deps struct {
	Detector Detector
	Profiles *storage.ProfileRepository
	Events   *storage.EventRepository
	Index    storage.DescriptorIndex
	Policy   policy.Source
	Locator  geo.Provider
	Fence    geo.Fence
	Office   string
	DeviceID string
	Clock    clock.Clock
	Logger   *slog.Logger
	OnResult func(models.VerificationResult)
}

type Pipeline struct {
	Deps
	cooldown *guard.Cooldown
	lock     *guard.SubmissionLock
	evidence *evidence.Generator
}

func NewPipeline(d Deps) *Pipeline {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Pipeline{
		Deps:     d,
		cooldown: guard.NewCooldown(d.Events, d.Clock),
		lock:     guard.NewSubmissionLock(),
		evidence: evidence.NewGenerator(),
	}
}

// Verify runs lock, detect, match, cooldown, geofence, evidence and persist
// in that order. The submission lock for the action is released on every
// path. Failures are reported in the result, never as an error.
func (p *Pipeline) Verify(ctx context.Context, a Attempt) models.VerificationResult {
	res := p.verify(ctx, a)
	if math.IsInf(res.Distance, 0) || math.IsNaN(res.Distance) {
		res.Distance = 0
	}
	observability.Verifications.WithLabelValues(string(a.Action), string(res.Reason)).Inc()
	p.Logger.Info("verification attempt",
		"action", a.Action,
		"reason", res.Reason,
		"state", res.State,
		"staff_id", res.StaffID,
		"event_id", res.EventID,
	)
	if p.OnResult != nil {
		p.OnResult(res)
	}
	return res
}

func (p *Pipeline) verify(ctx context.Context, a Attempt) models.VerificationResult {
	if !a.Action.Valid() {
		return failed(models.ReasonVerificationFailed, fmt.Sprintf("unknown action %q", a.Action))
	}

	key := string(a.Action)
	if !p.lock.Acquire(key) {
		r := failed(models.ReasonVerificationFailed, fmt.Sprintf("another %s verification is in progress", a.Action))
		r.Retryable = true
		return r
	}
	defer p.lock.Release(key)

	pol, err := p.Policy.Current(ctx)
	if err != nil {
		return failed(models.ReasonVerificationFailed, fmt.Sprintf("load policy: %v", err))
	}

	if a.Frame == nil || a.Frame.Bounds().Empty() {
		return failed(models.ReasonCameraUnavailable, models.ErrNoFrame.Error())
	}

	det, err := p.Detector.Detect(ctx, a.Frame)
	if err != nil {
		if errors.Is(err, models.ErrModelNotLoaded) {
			return failed(models.ReasonModelLoadFailed, err.Error())
		}
		return failed(models.ReasonVerificationFailed, fmt.Sprintf("detect face: %v", err))
	}
	if det == nil {
		return models.VerificationResult{
			Reason:    models.ReasonNoFaceDetected,
			Retryable: true,
			State:     models.VerifyScanning,
			Message:   "No face detected. Keep looking at the camera.",
		}
	}

	gallery, err := p.gallery(ctx, a.StaffID, det.Embedding)
	if err != nil {
		return failed(models.ReasonVerificationFailed, err.Error())
	}
	match := matcher.MatchFace(gallery, det.Embedding, pol.MatchThreshold)
	if !match.Matched {
		return models.VerificationResult{
			Reason:    models.ReasonVerificationFailed,
			Retryable: true,
			State:     models.VerifyMismatch,
			Message:   "Face does not match. Keep scanning.",
			StaffID:   a.StaffID,
			Distance:  match.Distance,
		}
	}

	res := models.VerificationResult{
		State:    models.VerifyMatched,
		StaffID:  match.ProfileID,
		Distance: match.Distance,
	}

	scope := ""
	if pol.CooldownPerStaff {
		scope = match.ProfileID
	}
	decision, err := p.cooldown.Check(ctx, a.Action, scope, pol.Cooldown)
	if err != nil {
		res.Reason = models.ReasonVerificationFailed
		res.Message = err.Error()
		return res
	}
	if !decision.Allowed && a.EventID != "" && decision.Blocking.EventID == a.EventID {
		// A replay of the event that opened the window.
		res.Success = true
		res.Reason = models.ReasonDuplicateIgnored
		res.EventID = a.EventID
		res.SyncState = decision.Blocking.SyncState
		res.Message = "Already recorded."
		return res
	}
	if !decision.Allowed {
		res.Reason = models.ReasonCooldownActive
		res.RemainingSec = decision.RemainingSec
		res.EventID = decision.Blocking.EventID
		res.Message = fmt.Sprintf("%s already recorded. Try again in %ds.", a.Action, decision.RemainingSec)
		return res
	}

	now := p.Clock.Now()
	fence := geo.Locate(ctx, p.Locator, p.Fence, pol.LocationTimeout)
	res.GeofenceStatus = fence.Status

	ev, err := p.evidence.Generate(a.Frame, evidence.Label{
		Timestamp:  now,
		Position:   fence.Position,
		OfficeName: p.Office,
		DeviceID:   p.DeviceID,
	}, pol.Evidence)
	if err != nil {
		res.Reason = models.ReasonEvidenceCaptureFailed
		res.Message = err.Error()
		return res
	}

	eventID := a.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}
	event := &models.AttendanceEvent{
		EventID:         eventID,
		StaffID:         match.ProfileID,
		Action:          a.Action,
		ClientTimestamp: now,
		MatchDistance:   match.Distance,
		Geofence:        fence,
		SyncState:       models.SyncLocalOnly,
		Evidence:        ev.Bytes,
		DeviceID:        p.DeviceID,
	}
	res.EventID = eventID

	if err := p.Events.Insert(ctx, event); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			res.Success = true
			res.Reason = models.ReasonDuplicateIgnored
			res.Message = "Already recorded."
			if stored, gerr := p.Events.Get(ctx, eventID); gerr == nil {
				res.SyncState = stored.SyncState
			}
			return res
		}
		res.Reason = models.ReasonPersistFailed
		res.Message = err.Error()
		return res
	}

	res.Success = true
	res.Reason = models.ReasonSuccessRecorded
	res.SyncState = event.SyncState
	res.Message = fmt.Sprintf("%s recorded.", a.Action)
	return res
}

// gallery builds the immutable set of candidates for this attempt.
func (p *Pipeline) gallery(ctx context.Context, staffID string, query []float32) (matcher.Gallery, error) {
	if staffID != "" {
		prof, err := p.Profiles.Load(ctx, staffID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return matcher.Gallery{}, fmt.Errorf("staff %s is not enrolled", staffID)
			}
			return matcher.Gallery{}, fmt.Errorf("load profile: %w", err)
		}
		if !prof.Usable() {
			return matcher.Gallery{}, fmt.Errorf("profile of %s is %s", staffID, prof.Status)
		}
		return matcher.NewGallery(toMatcher(*prof)), nil
	}

	if p.Index != nil {
		if g, ok := p.indexedGallery(ctx, query); ok {
			return g, nil
		}
	}

	active, err := p.Profiles.ListActive(ctx)
	if err != nil {
		return matcher.Gallery{}, fmt.Errorf("list active profiles: %w", err)
	}
	profiles := make([]matcher.Profile, 0, len(active))
	for _, prof := range active {
		profiles = append(profiles, toMatcher(prof))
	}
	return matcher.NewGallery(profiles...), nil
}

// indexedGallery narrows to index candidates. ok is false when the index
// cannot be used and the caller should scan all active profiles.
func (p *Pipeline) indexedGallery(ctx context.Context, query []float32) (matcher.Gallery, bool) {
	cands, err := p.Index.NearestStaff(ctx, query, kioskCandidates)
	if err != nil {
		p.Logger.Warn("descriptor index lookup failed, scanning all profiles", "error", err)
		return matcher.Gallery{}, false
	}
	profiles := make([]matcher.Profile, 0, len(cands))
	for _, c := range cands {
		prof, err := p.Profiles.Load(ctx, c.StaffID)
		if err != nil || !prof.Usable() {
			continue
		}
		profiles = append(profiles, toMatcher(*prof))
	}
	return matcher.NewGallery(profiles...), true
}

func toMatcher(p models.EnrollmentProfile) matcher.Profile {
	return matcher.Profile{ID: p.StaffID, Descriptors: p.Descriptors, Mean: p.MeanDescriptor}
}

func failed(reason models.ReasonCode, msg string) models.VerificationResult {
	return models.VerificationResult{Reason: reason, State: models.VerifyScanning, Message: msg}
}
