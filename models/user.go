package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a store worker. Role drives endpoint access: sales workers can
// scan and invoice, inventory workers can restock and adjust, admins can
// do everything including exports and analytics.
type User struct {
	ID        string    `gorm:"size:36;primary_key" json:"id"` // uuid
	StoreId   string    `gorm:"size:36;index;not null" json:"store_id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('A', 'S', 'I');default:S" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return nil
}

type NewUser struct {
	StoreId  string   `json:"store_id" binding:"required"`
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Phone    string   `json:"phone"`
	Password string   `json:"password" binding:"required"`
	IsActive *bool    `json:"is_active" binding:"required"`
	Role     UserRole `json:"role" binding:"required"`
}

/*
caches:
	User:$username
	Tokens:$username (set of live tokens)
	Token:$token -> username
*/

func (user User) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[User](user.Username)
}

func (result *User) PrepareGive() {
	result.Password = ""
}

type LoginInfo struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	StoreId   string `json:"store_id"`
	StoreName string `json:"store_name"`
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var err error
	var result LoginInfo

	user := User{}

	// get User info
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return &result, err
	}
	if !exists {
		err = db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error
		if err != nil {
			return &result, errors.New("invalid username or password")
		}
	}

	// check login credentials
	err = utils.ComparePassword(user.Password, password)
	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return &result, errors.New("invalid username or password")
	}

	if user.IsActive == nil || !*user.IsActive {
		return &result, errors.New("user is disabled")
	}

	store, err := GetStoreById(ctx, user.StoreId)
	if err != nil {
		return &result, err
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return &result, err
	}
	result.Token = token
	result.Name = user.Name
	result.Role = string(user.Role)
	result.StoreId = user.StoreId
	result.StoreName = store.Name

	token_lifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		token_lifespan = 24
	}

	// register the token so sessions can be revoked before JWT expiry
	if err := config.AddRedisSet("Tokens:"+user.Username, token); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+token, user.Username, time.Duration(token_lifespan)*time.Hour); err != nil {
		return &result, err
	}

	return &result, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + fmt.Sprint(token))
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	if !input.Role.IsValid() {
		return nil, fmt.Errorf("%w: invalid role %q", utils.ErrorInvalidRequest, input.Role)
	}
	if _, err := requireActiveStore(ctx, input.StoreId); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		StoreId:  input.StoreId,
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		Name:     input.Name,
		Phone:    input.Phone,
		Password: string(hashed),
		IsActive: input.IsActive,
		Role:     input.Role,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func GetUser(ctx context.Context, id string) (*User, error) {
	user, err := utils.FetchSingleModel[User](ctx, id)
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

// requireWorker checks that the worker exists, is active, and is assigned to
// the given store.
func requireWorker(ctx context.Context, storeId string, workerId string) (*User, error) {
	worker, err := utils.FetchSingleModel[User](ctx, workerId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, fmt.Errorf("%w: worker %s", utils.ErrorRecordNotFound, workerId)
		}
		return nil, err
	}
	if worker.IsActive == nil || !*worker.IsActive {
		return nil, fmt.Errorf("%w: worker is disabled", utils.ErrorForbidden)
	}
	if worker.StoreId != storeId {
		return nil, fmt.Errorf("%w: worker does not belong to store %s", utils.ErrorForbidden, storeId)
	}
	// A sale is recorded under the caller's own identity unless an admin
	// records it on a worker's behalf.
	callerId, ok := utils.GetCallerIdFromContext(ctx)
	callerRole, _ := utils.GetCallerRoleFromContext(ctx)
	if ok && callerId != workerId && UserRole(callerRole) != UserRoleAdmin {
		return nil, fmt.Errorf("%w: caller may not act as worker %s", utils.ErrorForbidden, workerId)
	}
	return worker, nil
}
