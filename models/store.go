package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Store struct {
	ID        string    `gorm:"size:36;primary_key" json:"id"` // uuid
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Region    string    `gorm:"size:100;index" json:"region"`
	City      string    `gorm:"size:100;index" json:"city"`
	Address   string    `gorm:"size:255" json:"address"`
	Phone     string    `gorm:"size:20" json:"phone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (store *Store) BeforeCreate(tx *gorm.DB) error {
	if store.ID == "" {
		store.ID = uuid.NewString()
	}
	return nil
}

/*
caches:
	Store:$storeId
*/

func (store Store) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[Store](store.ID)
}

func GetStoreById(ctx context.Context, id string) (*Store, error) {
	store, err := utils.RetrieveRedis[Store](id)
	if err != nil {
		return nil, err
	}
	if store != nil {
		return store, nil
	}

	store, err = utils.FetchSingleModel[Store](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis[Store](store, id); err != nil {
		return nil, err
	}
	return store, nil
}

type NewStore struct {
	Name    string `json:"name" binding:"required"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

func CreateStore(ctx context.Context, input *NewStore) (*Store, error) {
	db := config.GetDB()

	store := Store{
		Name:    input.Name,
		Region:  input.Region,
		City:    input.City,
		Address: input.Address,
		Phone:   input.Phone,
	}
	if err := db.WithContext(ctx).Create(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// requireActiveStore resolves the store and rejects disabled ones.
func requireActiveStore(ctx context.Context, storeId string) (*Store, error) {
	store, err := GetStoreById(ctx, storeId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, fmt.Errorf("%w: store %s", utils.ErrorRecordNotFound, storeId)
		}
		return nil, err
	}
	if store.IsActive != nil && !*store.IsActive {
		return nil, fmt.Errorf("%w: store is disabled", utils.ErrorForbidden)
	}
	return store, nil
}
