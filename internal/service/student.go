package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/metrics"
)

// StudentRepository mirrors the students collection. Each student owns a
// profile under users/{profile_id}; writes that touch both run as a saga with
// a compensating step, since the store has no cross-document transaction.
type StudentRepository struct {
	*Collection[domain.Student, *domain.Student]

	store       domain.DocumentStore
	profiles    *Users
	credentials Credentials
}

// Credentials removes sign-in credentials by profile id.
type Credentials interface {
	Unregister(ctx context.Context, uid string) error
}

// StudentOption configures a StudentRepository.
type StudentOption func(*StudentRepository)

// WithCredentials makes Delete also remove the credential keyed by the
// student's profile id, so a deleted student can no longer sign in.
func WithCredentials(c Credentials) StudentOption {
	return func(r *StudentRepository) {
		r.credentials = c
	}
}

// NewStudentRepository opens the students mirror. Profile writes go through
// profiles.
func NewStudentRepository(ctx context.Context, store domain.DocumentStore, profiles *Users, opts ...StudentOption) *StudentRepository {
	r := &StudentRepository{
		Collection: OpenCollection[domain.Student](ctx, store, domain.StudentsPath),
		store:      store,
		profiles:   profiles,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create writes the profile first and then the student linked to it. If the
// student write fails the profile is removed again.
func (r *StudentRepository) Create(ctx context.Context, in domain.StudentInput) (string, error) {
	if err := validateStruct(in); err != nil {
		return "", err
	}

	profileID := r.store.GenerateID(domain.UsersPath)
	if err := r.profiles.Put(ctx, profileID, in.Profile()); err != nil {
		return "", fmt.Errorf("create student profile: %w", err)
	}

	id, err := r.Collection.Create(ctx, in.Student(profileID))
	if err == nil {
		return id, nil
	}

	profilePath := domain.Path(domain.UsersPath, profileID)
	if cErr := r.profiles.Delete(ctx, profileID); cErr != nil {
		slog.Error("orphaned profile after failed student create", "path", profilePath, "error", cErr)
		return "", &domain.PartialCascadeError{
			Op:              "create student",
			Completed:       []string{profilePath},
			Failed:          domain.StudentsPath,
			Err:             err,
			CompensationErr: cErr,
		}
	}
	return "", fmt.Errorf("create student: %w", err)
}

// Update merges the student fields and then any profile fields into the
// linked profile. If the profile merge fails the previous student record is
// written back. A missing profile is logged and skipped.
func (r *StudentRepository) Update(ctx context.Context, id string, patch domain.StudentPatch) error {
	if err := validateStruct(patch); err != nil {
		return err
	}

	prev, err := r.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	if err := r.Collection.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	profileChanges := patch.ProfileChanges()
	if len(profileChanges) == 0 {
		return nil
	}
	if prev.ProfileID == "" {
		slog.Debug("student has no profile, skipping profile fields", "student_id", id)
		return nil
	}

	err = r.profiles.merge(ctx, prev.ProfileID, profileChanges)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		slog.Debug("join resolution gap", "student_id", id, "ref", "profile", "profile_id", prev.ProfileID)
		metrics.JoinGaps.WithLabelValues("profile").Inc()
		return nil
	}

	studentPath := domain.Path(domain.StudentsPath, id)
	profilePath := domain.Path(domain.UsersPath, prev.ProfileID)
	if cErr := r.store.WriteFull(ctx, studentPath, prev); cErr != nil {
		slog.Error("student left updated after failed profile update", "path", studentPath, "error", cErr)
		return &domain.PartialCascadeError{
			Op:              "update student",
			Completed:       []string{studentPath},
			Failed:          profilePath,
			Err:             err,
			CompensationErr: cErr,
		}
	}
	return fmt.Errorf("update student profile: %w", err)
}

// Delete removes the student, then its profile, then the profile's
// credential when credentials are configured. A failed lookup aborts before
// anything is removed. The profile removal is retried once; if it still
// fails the student record is written back and the error returned. The
// credential removal is also retried once, but there is nothing left to
// restore by then, so its failure is a PartialCascadeError.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	student, err := r.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}

	if err := r.Collection.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if student.ProfileID == "" {
		return nil
	}

	studentPath := domain.Path(domain.StudentsPath, id)
	profilePath := domain.Path(domain.UsersPath, student.ProfileID)

	err = r.profiles.Delete(ctx, student.ProfileID)
	if err != nil {
		slog.Warn("retrying profile delete", "profile_id", student.ProfileID, "error", err)
		err = r.profiles.Delete(ctx, student.ProfileID)
	}
	if err == nil {
		return r.unregister(ctx, student.ProfileID, studentPath, profilePath)
	}

	if cErr := r.store.WriteFull(ctx, studentPath, student); cErr != nil {
		slog.Error("profile orphaned by student delete", "path", profilePath, "error", cErr)
		return &domain.PartialCascadeError{
			Op:              "delete student",
			Completed:       []string{studentPath},
			Failed:          profilePath,
			Err:             err,
			CompensationErr: cErr,
		}
	}
	return fmt.Errorf("delete student profile: %w", err)
}

func (r *StudentRepository) unregister(ctx context.Context, uid string, removed ...string) error {
	if r.credentials == nil {
		return nil
	}

	err := r.credentials.Unregister(ctx, uid)
	if err != nil {
		slog.Warn("retrying credential delete", "uid", uid, "error", err)
		err = r.credentials.Unregister(ctx, uid)
	}
	if err == nil {
		return nil
	}

	slog.Error("credential left behind by student delete", "uid", uid, "error", err)
	return &domain.PartialCascadeError{
		Op:        "delete student",
		Completed: removed,
		Failed:    "credentials/" + uid,
		Err:       err,
	}
}
