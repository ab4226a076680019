package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/repository/memory"
	"github.com/jwalitptl/kine-api/internal/service/care"
	"github.com/jwalitptl/kine-api/internal/service/event"
	"github.com/jwalitptl/kine-api/internal/service/schedule"
	"github.com/jwalitptl/kine-api/internal/service/slot"
	"github.com/jwalitptl/kine-api/pkg/clock"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

// Thursday 2026-10-15 09:00 UTC. The following Monday is 2026-10-19.
var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func monday(hour, minute int) time.Time {
	return time.Date(2026, 10, 19, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	svc     *Service
	repos   *repository.Repositories
	clock   *clock.Fixed
	metrics *metrics.Metrics

	patient       *model.Patient
	patientCaller model.Caller
	kine          *model.Practitioner
	kineCaller    model.Caller
	kine2         *model.Practitioner
}

var admin = model.Caller{UserID: uuid.New(), Role: model.RoleAdmin}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.NewStore().Repositories()
	clk := clock.NewFixed(now)
	log := logger.Nop()
	m := metrics.NewMetrics("test")

	bus := event.NewService(repos.Outbox, clk, log)
	careMgr := care.NewManager(repos, bus, clk, log)
	svc := NewService(repos, schedule.NewPolicy(time.UTC), slot.NewChecker(repos.Appointments),
		careMgr, bus, clk, m, log, 30)
	careMgr.Register(bus)
	svc.Register(bus)

	f := &fixture{svc: svc, repos: repos, clock: clk, metrics: m}
	f.patient = f.newPatient(t)
	f.patientCaller = model.Caller{UserID: f.patient.UserID, Role: model.RolePatient}
	f.kine = f.newPractitioner(t)
	f.kineCaller = model.Caller{UserID: f.kine.UserID, Role: model.RolePractitioner}
	f.kine2 = f.newPractitioner(t)
	return f
}

func (f *fixture) newPatient(t *testing.T) *model.Patient {
	t.Helper()
	p := &model.Patient{Base: model.Base{ID: uuid.New()}, UserID: uuid.New(), FirstName: "Camille", LastName: "Durand"}
	require.NoError(t, f.repos.Patients.Create(context.Background(), p))
	return p
}

func (f *fixture) newPractitioner(t *testing.T) *model.Practitioner {
	t.Helper()
	p := &model.Practitioner{Base: model.Base{ID: uuid.New()}, UserID: uuid.New(), FirstName: "Kim", LastName: "Leroy"}
	require.NoError(t, f.repos.Practitioners.Create(context.Background(), p))
	return p
}

func (f *fixture) bookAsAdmin(t *testing.T, patientID, practitionerID uuid.UUID, start time.Time, minutes int) (*model.Appointment, error) {
	t.Helper()
	return f.svc.Book(context.Background(), admin, model.BookAppointmentRequest{
		PatientID:       &patientID,
		PractitionerID:  &practitionerID,
		StartTime:       start,
		DurationMinutes: &minutes,
	})
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func assertCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected an application error, got %v", err)
	assert.Equal(t, code, appErr.Code, appErr.Message)
}

func TestBookAssignsPractitionerAndOpensPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apt, err := f.svc.Book(ctx, f.patientCaller, model.BookAppointmentRequest{
		PractitionerID:  &f.kine.ID,
		StartTime:       monday(10, 0),
		DurationMinutes: intPtr(30),
		Reason:          model.SimpleReason("lower back pain"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, apt.Status)
	assert.False(t, apt.PaymentConfirmed)
	assert.Equal(t, monday(10, 30), apt.EndTime)
	assert.Equal(t, f.patient.ID, apt.PatientID)

	patient, err := f.repos.Patients.Get(ctx, f.patient.ID)
	require.NoError(t, err)
	require.NotNil(t, patient.AssignedPractitionerID)
	assert.Equal(t, f.kine.ID, *patient.AssignedPractitionerID)

	plan, err := f.repos.Plans.FindActive(ctx, f.patient.ID, f.kine.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, model.PlanStatusActive, plan.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BookingAttempts.WithLabelValues("booked")))
}

func TestBookRejectsPractitionerMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)

	_, err = f.bookAsAdmin(t, f.patient.ID, f.kine2.ID, monday(14, 0), 30)
	assertCode(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "practitioner mismatch")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BookingAttempts.WithLabelValues("conflict")))
}

func TestBookRejectsOverlapButAcceptsAdjacentSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)

	_, err = f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 15), 30)
	assertCode(t, err, apperrors.ErrConflict)

	apt, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 30), 30)
	require.NoError(t, err)
	assert.Equal(t, monday(11, 0), apt.EndTime)
}

func TestBookOneActiveAppointmentPerPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := model.BookAppointmentRequest{PractitionerID: &f.kine.ID, StartTime: monday(10, 0)}

	_, err := f.svc.Book(ctx, f.patientCaller, req)
	require.NoError(t, err)

	req.StartTime = monday(15, 0)
	_, err = f.svc.Book(ctx, f.patientCaller, req)
	assertCode(t, err, apperrors.ErrConflict)

	// Staff are not bound by the rule.
	_, err = f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(15, 0), 30)
	assert.NoError(t, err)
}

func TestBookUsesAssignedPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.patientCaller, model.BookAppointmentRequest{StartTime: monday(10, 0)})
	assertCode(t, err, apperrors.ErrValidation)

	_, err = f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)

	apt, err := f.svc.Book(ctx, admin, model.BookAppointmentRequest{PatientID: &f.patient.ID, StartTime: monday(11, 0)})
	require.NoError(t, err)
	assert.Equal(t, f.kine.ID, apt.PractitionerID)
	assert.Equal(t, 30, apt.DurationMinutes)
}

func TestBookPolicyViolations(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		start time.Time
		mins  int
	}{
		{"before opening", monday(7, 30), 60},
		{"after closing", monday(17, 45), 30},
		{"sunday", time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC), 30},
		{"in the past", time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC), 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, tc.start, tc.mins)
			assertCode(t, err, apperrors.ErrPolicyViolation)
		})
	}

	patient, err := f.repos.Patients.Get(context.Background(), f.patient.ID)
	require.NoError(t, err)
	assert.Nil(t, patient.AssignedPractitionerID, "rejected bookings leave no assignment behind")
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 0)
	assertCode(t, err, apperrors.ErrValidation)

	_, err = f.bookAsAdmin(t, uuid.New(), f.kine.ID, monday(10, 0), 30)
	assertCode(t, err, apperrors.ErrNotFound)

	_, err = f.bookAsAdmin(t, f.patient.ID, uuid.New(), monday(10, 0), 30)
	assertCode(t, err, apperrors.ErrNotFound)

	other := f.newPatient(t)
	_, err = f.svc.Book(context.Background(), f.patientCaller, model.BookAppointmentRequest{
		PatientID: &other.ID, PractitionerID: &f.kine.ID, StartTime: monday(10, 0),
	})
	assertCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Book(context.Background(), f.kineCaller, model.BookAppointmentRequest{
		PatientID: &f.patient.ID, PractitionerID: &f.kine2.ID, StartTime: monday(10, 0),
	})
	assertCode(t, err, apperrors.ErrForbidden)
}

func TestConcurrentBookingsForSameSlot(t *testing.T) {
	f := newFixture(t)
	const attempts = 20

	patients := make([]*model.Patient, attempts)
	for i := range patients {
		patients[i] = f.newPatient(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(context.Background(), admin, model.BookAppointmentRequest{
				PatientID:       &patients[i].ID,
				PractitionerID:  &f.kine.ID,
				StartTime:       monday(10, 0),
				DurationMinutes: intPtr(30),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	list, err := f.repos.Appointments.List(context.Background(), model.AppointmentFilter{PractitionerID: &f.kine.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apt, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.patientCaller, apt.ID)
	assertCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Complete(ctx, f.kineCaller, apt.ID)
	assertCode(t, err, apperrors.ErrState)

	confirmed, err := f.svc.Confirm(ctx, f.kineCaller, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, confirmed.Status)
	assert.True(t, confirmed.PaymentConfirmed)

	_, err = f.svc.Confirm(ctx, f.kineCaller, apt.ID)
	assertCode(t, err, apperrors.ErrState)

	completed, err := f.svc.Complete(ctx, f.kineCaller, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, completed.Status)

	_, err = f.svc.Cancel(ctx, f.patientCaller, apt.ID)
	assertCode(t, err, apperrors.ErrState)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StatusTransitions.WithLabelValues("pending", "confirmed")))
}

func TestCancelOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apt, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)

	other := f.newPatient(t)
	_, err = f.svc.Cancel(ctx, model.Caller{UserID: other.UserID, Role: model.RolePatient}, apt.ID)
	assertCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Cancel(ctx, model.Caller{UserID: f.kine2.UserID, Role: model.RolePractitioner}, apt.ID)
	assertCode(t, err, apperrors.ErrForbidden)

	cancelled, err := f.svc.Cancel(ctx, f.patientCaller, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, f.patientCaller, apt.ID)
	assertCode(t, err, apperrors.ErrState)

	// The slot is free again.
	_, err = f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	assert.NoError(t, err)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apt, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)
	other, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(11, 0), 30)
	require.NoError(t, err)

	t.Run("overlapping its own slot", func(t *testing.T) {
		moved, err := f.svc.Reschedule(ctx, f.patientCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: timePtr(monday(10, 15))})
		require.NoError(t, err)
		assert.Equal(t, monday(10, 45), moved.EndTime)
	})

	t.Run("onto another appointment", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, f.patientCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: timePtr(monday(10, 45))})
		assertCode(t, err, apperrors.ErrConflict)
	})

	t.Run("duration only", func(t *testing.T) {
		moved, err := f.svc.Reschedule(ctx, f.kineCaller, apt.ID, model.RescheduleAppointmentRequest{DurationMinutes: intPtr(45)})
		require.NoError(t, err)
		assert.Equal(t, monday(11, 0), moved.EndTime)
	})

	t.Run("into the past", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, f.kineCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: timePtr(now.Add(-time.Hour))})
		assertCode(t, err, apperrors.ErrPolicyViolation)
	})

	t.Run("outside opening hours", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, f.kineCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: timePtr(monday(19, 0))})
		assertCode(t, err, apperrors.ErrPolicyViolation)
	})

	t.Run("nothing to change", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, f.kineCaller, apt.ID, model.RescheduleAppointmentRequest{})
		assertCode(t, err, apperrors.ErrValidation)
	})

	_, err = f.svc.Confirm(ctx, f.kineCaller, apt.ID)
	require.NoError(t, err)
	tuesday := monday(9, 0).AddDate(0, 0, 1)

	t.Run("patient moves confirmed to another day", func(t *testing.T) {
		_, err := f.svc.Reschedule(ctx, f.patientCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: &tuesday})
		assertCode(t, err, apperrors.ErrPolicyViolation)
	})

	t.Run("patient moves confirmed within the day", func(t *testing.T) {
		moved, err := f.svc.Reschedule(ctx, f.patientCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: timePtr(monday(14, 0))})
		require.NoError(t, err)
		assert.Equal(t, monday(14, 0), moved.StartTime)
	})

	t.Run("practitioner moves confirmed to another day", func(t *testing.T) {
		moved, err := f.svc.Reschedule(ctx, f.kineCaller, apt.ID, model.RescheduleAppointmentRequest{StartTime: &tuesday})
		require.NoError(t, err)
		assert.Equal(t, tuesday, moved.StartTime)
	})

	t.Run("terminal appointment", func(t *testing.T) {
		_, err := f.svc.Cancel(ctx, f.kineCaller, other.ID)
		require.NoError(t, err)
		_, err = f.svc.Reschedule(ctx, f.kineCaller, other.ID, model.RescheduleAppointmentRequest{StartTime: timePtr(monday(15, 0))})
		assertCode(t, err, apperrors.ErrState)
	})
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)
	second, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(9, 0), 30)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.kineCaller, first.ID)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, f.kineCaller, f.kine.ID, nil, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "ordered by start time")

	upcoming, err := f.svc.List(ctx, f.kineCaller, f.kine.ID, nil, true)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, second.ID, upcoming[0].ID)

	_, err = f.svc.List(ctx, model.Caller{UserID: f.kine2.UserID, Role: model.RolePractitioner}, f.kine.ID, nil, false)
	assertCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.List(ctx, f.patientCaller, f.kine.ID, nil, false)
	assertCode(t, err, apperrors.ErrForbidden)

	mine, err := f.svc.ListForPatient(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	got, err := f.svc.Get(ctx, f.patientCaller, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = f.svc.Get(ctx, admin, uuid.New())
	assertCode(t, err, apperrors.ErrNotFound)
}

func TestDeleteRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apt, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, monday(10, 0), 30)
	require.NoError(t, err)

	assertCode(t, f.svc.Delete(ctx, f.kineCaller, apt.ID), apperrors.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, admin, apt.ID))

	_, err = f.svc.Get(ctx, admin, apt.ID)
	assertCode(t, err, apperrors.ErrNotFound)
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saturday := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	_, err := f.bookAsAdmin(t, f.patient.ID, f.kine.ID, saturday.Add(10*time.Hour), 60)
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(ctx, f.kine.ID, saturday, 60)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, saturday.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, saturday.Add(11*time.Hour), slots[1].Start)
	assert.Equal(t, saturday.Add(12*time.Hour), slots[2].Start)

	// Thursday 09:00 is now: earlier slots are gone.
	today, err := f.svc.AvailableSlots(ctx, f.kine.ID, now, 60)
	require.NoError(t, err)
	require.NotEmpty(t, today)
	assert.Equal(t, now, today[0].Start)
	assert.Len(t, today, 9)

	sunday, err := f.svc.AvailableSlots(ctx, f.kine.ID, saturday.AddDate(0, 0, 1), 60)
	require.NoError(t, err)
	assert.Empty(t, sunday)

	_, err = f.svc.AvailableSlots(ctx, uuid.New(), saturday, 60)
	assertCode(t, err, apperrors.ErrNotFound)
}
