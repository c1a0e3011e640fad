package verify

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/evidence"
	"github.com/your-org/attendance/internal/geo"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/policy"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/testutil"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type PipelineSuite struct {
	suite.Suite
	ctx      context.Context
	det      *testutil.MarkerDetector
	profiles *storage.ProfileRepository
	events   *storage.EventRepository
	clock    *clock.Manual
	pol      policy.Policy
	deps     Deps
	frame    image.Image
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.det = &testutil.MarkerDetector{Identity: 0, Scale: 0.3}
	s.profiles = storage.NewProfileRepository(storage.NewMemoryStore())
	s.events = storage.NewEventRepository(storage.NewMemoryStore())
	s.clock = clock.NewManual(t0)
	s.pol = policy.Policy{
		MatchThreshold:  0.6,
		Cooldown:        300 * time.Second,
		Evidence:        evidence.Budget{MaxWidth: 640, MinWidth: 240, Quality: 80, MinQuality: 40, MaxBytes: 60 * 1024},
		LocationTimeout: time.Second,
	}
	s.frame, _ = testutil.SyntheticFace(testutil.FaceOptions{Index: 0})

	s.enroll("alice", 0)
	s.enroll("bob", 1)

	s.deps = Deps{
		Detector: s.det,
		Profiles: s.profiles,
		Events:   s.events,
		Locator:  geo.StaticProvider{Position: models.Position{Lat: 52.5200, Lng: 13.4050, AccuracyM: 8}},
		Fence:    geo.Fence{Enabled: true, Lat: 52.5200, Lng: 13.4050, RadiusM: 150},
		Office:   "Berlin HQ",
		DeviceID: "kiosk-1",
		Clock:    s.clock,
	}
}

func (s *PipelineSuite) enroll(staffID string, identity int) {
	descs := make([][]float32, 0, 20)
	for i := 1; i <= 20; i++ {
		descs = append(descs, testutil.Embedding(identity, i, 0.3))
	}
	s.Require().NoError(s.profiles.Upsert(s.ctx, &models.EnrollmentProfile{
		StaffID:     staffID,
		Descriptors: descs,
		Status:      models.ProfileActive,
		EnrolledAt:  t0.Add(-24 * time.Hour),
	}))
}

func (s *PipelineSuite) pipeline() *Pipeline {
	d := s.deps
	d.Policy = policy.Static{P: s.pol}
	return NewPipeline(d)
}

func (s *PipelineSuite) TestSuccessRecordsEvent() {
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})

	s.True(res.Success)
	s.Equal(models.ReasonSuccessRecorded, res.Reason)
	s.Equal(models.VerifyMatched, res.State)
	s.Equal(models.GeofenceInside, res.GeofenceStatus)
	s.Equal(models.SyncLocalOnly, res.SyncState)
	s.Equal("alice", res.StaffID)
	s.Less(res.Distance, 0.6)
	s.Require().NotEmpty(res.EventID)

	ev, err := s.events.Get(s.ctx, res.EventID)
	s.Require().NoError(err)
	s.Equal(models.ActionIn, ev.Action)
	s.Equal("kiosk-1", ev.DeviceID)
	s.Equal(t0, ev.ClientTimestamp.UTC())
	s.NotEmpty(ev.Evidence)
	s.LessOrEqual(len(ev.Evidence), 60*1024)
}

func (s *PipelineSuite) TestNoFaceIsRetryable() {
	blank, _ := testutil.SyntheticFace(testutil.FaceOptions{NoFace: true})
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, Frame: blank})

	s.False(res.Success)
	s.Equal(models.ReasonNoFaceDetected, res.Reason)
	s.True(res.Retryable)
	s.Equal(models.VerifyScanning, res.State)
}

func (s *PipelineSuite) TestMismatchKeepsScanning() {
	s.det.Identity = 1
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})

	s.False(res.Success)
	s.Equal(models.ReasonVerificationFailed, res.Reason)
	s.Equal(models.VerifyMismatch, res.State)
	s.True(res.Retryable)
	s.Greater(res.Distance, 0.6)

	events, err := s.events.List(s.ctx, storage.EventFilter{})
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *PipelineSuite) TestCooldownReportsRemainingSeconds() {
	p := s.pipeline()
	first := p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	s.Require().True(first.Success)

	s.clock.Advance(10 * time.Second)
	res := p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	s.False(res.Success)
	s.Equal(models.ReasonCooldownActive, res.Reason)
	s.Equal(models.VerifyMatched, res.State)
	s.Equal(290, res.RemainingSec)
	s.Equal(first.EventID, res.EventID)

	s.Run("other action is not blocked", func() {
		out := p.Verify(s.ctx, Attempt{Action: models.ActionOut, StaffID: "alice", Frame: s.frame})
		s.Equal(models.ReasonSuccessRecorded, out.Reason)
	})

	s.Run("window elapsed", func() {
		s.clock.Advance(290 * time.Second)
		again := p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
		s.Equal(models.ReasonSuccessRecorded, again.Reason)
	})
}

func (s *PipelineSuite) TestCooldownPerStaff() {
	s.pol.CooldownPerStaff = true
	p := s.pipeline()
	s.Require().True(p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame}).Success)

	s.det.Identity = 1
	res := p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "bob", Frame: s.frame})
	s.Equal(models.ReasonSuccessRecorded, res.Reason)
}

func (s *PipelineSuite) TestReplayedEventIsDuplicate() {
	p := s.pipeline()
	attempt := Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame, EventID: "evt-1"}
	s.Require().Equal(models.ReasonSuccessRecorded, p.Verify(s.ctx, attempt).Reason)

	res := p.Verify(s.ctx, attempt)
	s.True(res.Success)
	s.Equal(models.ReasonDuplicateIgnored, res.Reason)
	s.Equal("evt-1", res.EventID)

	s.Run("without cooldown", func() {
		s.pol.Cooldown = 0
		res := s.pipeline().Verify(s.ctx, attempt)
		s.True(res.Success)
		s.Equal(models.ReasonDuplicateIgnored, res.Reason)
	})

	events, err := s.events.List(s.ctx, storage.EventFilter{})
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *PipelineSuite) TestConcurrentAttemptIsRejected() {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.deps.Detector = testutil.DetectorFunc(func(ctx context.Context, img image.Image) (*models.FaceDetection, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return s.det.Detect(ctx, img)
	})
	p := s.pipeline()

	done := make(chan models.VerificationResult, 1)
	go func() {
		done <- p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	}()
	<-entered

	busy := p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	s.Equal(models.ReasonVerificationFailed, busy.Reason)
	s.True(busy.Retryable)
	s.Contains(busy.Message, "in progress")

	close(release)
	s.Equal(models.ReasonSuccessRecorded, (<-done).Reason)

	s.clock.Advance(time.Hour)
	s.Equal(models.ReasonSuccessRecorded,
		p.Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame}).Reason)
}

func (s *PipelineSuite) TestDetectorFailures() {
	cases := []struct {
		name      string
		err       error
		want      models.ReasonCode
		retryable bool
	}{
		{"model not loaded", models.ErrModelNotLoaded, models.ReasonModelLoadFailed, false},
		{"inference error", errors.New("onnx: bad tensor"), models.ReasonVerificationFailed, false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.deps.Detector = testutil.DetectorFunc(func(context.Context, image.Image) (*models.FaceDetection, error) {
				return nil, tc.err
			})
			res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, Frame: s.frame})
			s.False(res.Success)
			s.Equal(tc.want, res.Reason)
			s.Equal(tc.retryable, res.Retryable)
		})
	}
}

func (s *PipelineSuite) TestMissingFrame() {
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, Frame: nil})
	s.Equal(models.ReasonCameraUnavailable, res.Reason)
	s.Zero(s.det.Calls())
}

func (s *PipelineSuite) TestInvalidAction() {
	res := s.pipeline().Verify(s.ctx, Attempt{Action: "LUNCH", Frame: s.frame})
	s.Equal(models.ReasonVerificationFailed, res.Reason)
	s.False(res.Retryable)
}

func (s *PipelineSuite) TestUnusableProfile() {
	_, err := s.profiles.UpdateStatus(s.ctx, "alice", models.ProfileResetRequired, nil)
	s.Require().NoError(err)

	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	s.Equal(models.ReasonVerificationFailed, res.Reason)
	s.False(res.Retryable)
	s.Contains(res.Message, string(models.ProfileResetRequired))

	res = s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "carol", Frame: s.frame})
	s.Contains(res.Message, "not enrolled")
}

func (s *PipelineSuite) TestLocationUnavailableStillRecords() {
	s.deps.Locator = geo.StaticProvider{Err: geo.ErrLocationDenied}
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionOut, StaffID: "alice", Frame: s.frame})

	s.True(res.Success)
	s.Equal(models.GeofenceLocationUnavailable, res.GeofenceStatus)

	ev, err := s.events.Get(s.ctx, res.EventID)
	s.Require().NoError(err)
	s.Equal(models.GeofenceLocationUnavailable, ev.Geofence.Status)
	s.Nil(ev.Geofence.Position)
}

func (s *PipelineSuite) TestOutsideFenceStillRecords() {
	s.deps.Locator = geo.StaticProvider{Position: models.Position{Lat: 48.1351, Lng: 11.5820}}
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	s.True(res.Success)
	s.Equal(models.GeofenceOutside, res.GeofenceStatus)
}

func (s *PipelineSuite) TestKioskIdentifiesStaff() {
	s.det.Identity = 1
	res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, Frame: s.frame})
	s.Equal(models.ReasonSuccessRecorded, res.Reason)
	s.Equal("bob", res.StaffID)

	s.Run("with descriptor index", func() {
		ix := storage.NewMemoryIndex()
		for _, id := range []string{"alice", "bob"} {
			prof, err := s.profiles.Load(s.ctx, id)
			s.Require().NoError(err)
			s.Require().NoError(ix.IndexDescriptors(s.ctx, id, prof.Descriptors))
		}
		s.deps.Index = ix
		s.det.Identity = 0
		res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionOut, Frame: s.frame})
		s.Equal(models.ReasonSuccessRecorded, res.Reason)
		s.Equal("alice", res.StaffID)
	})

	s.Run("unknown face", func() {
		s.det.Identity = 5
		res := s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionOut, Frame: s.frame})
		s.Equal(models.VerifyMismatch, res.State)
		s.Empty(res.StaffID)
	})
}

func (s *PipelineSuite) TestResultHook() {
	var got []models.VerificationResult
	s.deps.OnResult = func(r models.VerificationResult) { got = append(got, r) }
	s.pipeline().Verify(s.ctx, Attempt{Action: models.ActionIn, StaffID: "alice", Frame: s.frame})
	s.Require().Len(got, 1)
	s.Equal(models.ReasonSuccessRecorded, got[0].Reason)
}
