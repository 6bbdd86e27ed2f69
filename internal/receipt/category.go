package receipt

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// CategoryRegistry manages manually registered categories
type CategoryRegistry interface {
	CreateCategory(name, description string) (*Category, error)
	ListCategories() ([]*Category, error)
}

// GormCategories implements CategoryRegistry on the ledger database
type GormCategories struct {
	db *gorm.DB
}

// NewGormCategories creates a category registry
func NewGormCategories(db *gorm.DB) *GormCategories {
	return &GormCategories{db: db}
}

// CreateCategory registers a category; names are unique
func (c *GormCategories) CreateCategory(name, description string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}

	category := &Category{Name: name, Description: description}
	if err := c.db.Create(category).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateCategory
		}
		var count int64
		if countErr := c.db.Model(&Category{}).Where("name = ?", name).Count(&count).Error; countErr == nil && count > 0 {
			return nil, ErrDuplicateCategory
		}
		return nil, fmt.Errorf("creating category: %w", err)
	}
	return category, nil
}

// ListCategories returns all categories ordered by name
func (c *GormCategories) ListCategories() ([]*Category, error) {
	categories := make([]*Category, 0)
	if err := c.db.Order("name").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}
