package service

import (
	"context"
	"fmt"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
)

// SpecialtyRepository mirrors the specialties collection and validates
// writes before they reach the store.
type SpecialtyRepository struct {
	*Collection[domain.Specialty, *domain.Specialty]
}

// NewSpecialtyRepository opens the specialties mirror.
func NewSpecialtyRepository(ctx context.Context, store domain.DocumentStore) *SpecialtyRepository {
	return &SpecialtyRepository{
		Collection: OpenCollection[domain.Specialty](ctx, store, domain.SpecialtiesPath),
	}
}

// Create validates in and stores a new specialty, returning its id.
func (r *SpecialtyRepository) Create(ctx context.Context, in domain.SpecialtyInput) (string, error) {
	if err := validateStruct(in); err != nil {
		return "", err
	}
	id, err := r.Collection.Create(ctx, in.Specialty())
	if err != nil {
		return "", fmt.Errorf("create specialty: %w", err)
	}
	return id, nil
}

// Update validates and merges the patch.
func (r *SpecialtyRepository) Update(ctx context.Context, id string, patch domain.SpecialtyPatch) error {
	if err := validateStruct(patch); err != nil {
		return err
	}
	if err := r.Collection.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("update specialty: %w", err)
	}
	return nil
}

// Delete removes the specialty. Students referencing it keep their
// specialty_id and resolve to the unknown placeholder.
func (r *SpecialtyRepository) Delete(ctx context.Context, id string) error {
	if err := r.Collection.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete specialty: %w", err)
	}
	return nil
}
