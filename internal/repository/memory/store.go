// Package memory keeps every repository in process memory. Transactions are
// serialized on a single lock and roll back by restoring a snapshot.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
)

type txKey struct{}

type logKey struct {
	patientID  uuid.UUID
	exerciseID uuid.UUID
	day        string
}

type state struct {
	appointments  map[uuid.UUID]model.Appointment
	patients      map[uuid.UUID]model.Patient
	practitioners map[uuid.UUID]model.Practitioner
	plans         map[uuid.UUID]model.TreatmentPlan
	exercises     map[uuid.UUID]model.Exercise
	logs          map[logKey]model.ExerciseLog
	outbox        map[uuid.UUID]model.OutboxEvent
}

func newState() state {
	return state{
		appointments:  make(map[uuid.UUID]model.Appointment),
		patients:      make(map[uuid.UUID]model.Patient),
		practitioners: make(map[uuid.UUID]model.Practitioner),
		plans:         make(map[uuid.UUID]model.TreatmentPlan),
		exercises:     make(map[uuid.UUID]model.Exercise),
		logs:          make(map[logKey]model.ExerciseLog),
		outbox:        make(map[uuid.UUID]model.OutboxEvent),
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each map is a consistent snapshot.
func (s state) clone() state {
	c := newState()
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.practitioners {
		c.practitioners[k] = v
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.exercises {
		c.exercises[k] = v
	}
	for k, v := range s.logs {
		c.logs[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

// Store is the shared backing state of all memory repositories.
type Store struct {
	mu   sync.Mutex
	data state
}

func NewStore() *Store {
	return &Store{data: newState()}
}

// lock acquires the store unless ctx already runs inside a transaction,
// which holds the lock for its whole duration.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// WithinTransaction runs fn while holding the store lock and restores the
// previous state if fn fails or panics.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// LockPractitioner is satisfied by the transaction lock itself.
func (s *Store) LockPractitioner(ctx context.Context, _ uuid.UUID) error {
	return ctx.Err()
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Transactor:    s,
		Appointments:  &appointmentRepository{s},
		Patients:      &patientRepository{s},
		Practitioners: &practitionerRepository{s},
		Plans:         &treatmentPlanRepository{s},
		Exercises:     &exerciseRepository{s},
		ExerciseLogs:  &exerciseLogRepository{s},
		Outbox:        &outboxRepository{s},
	}
}

// DeleteExercise removes a catalog entry; used to simulate catalog churn.
func (s *Store) DeleteExercise(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.exercises, id)
}
