// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only lookups for the external
// collaborators of the booking core: businesses, their services, and staff.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

// GetBusiness fetches a business by id, or ErrNotFound.
func GetBusiness(ctx context.Context, db *gorm.DB, id string) (*domain.Business, error) {
	var b domain.Business
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetService fetches an active service by id scoped to its business, or
// ErrNotFound.
func GetService(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Service, error) {
	var s domain.Service
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ? AND active = ?", businessID, id, true).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStaff fetches an active staff member by id scoped to its business, or
// ErrNotFound.
func GetStaff(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Staff, error) {
	var st domain.Staff
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ? AND active = ?", businessID, id, true).
		First(&st).Error
	if err != nil {
		return nil, err
	}
	return &st, nil
}
