package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// check if model has expiration date
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Product":  true,
		"Brand":    true,
		"Category": true,
	}
	return expirableTypes[typeName]
}

// store instance under Type:$key, obj should be a pointer
func StoreRedis[T any](obj any, key string) error {
	typeName := GetTypeName[T]()
	redisKey := typeName + ":" + key

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(redisKey, &obj, duration)
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](key string) (*T, error) {
	var result *T
	redisKey := GetTypeName[T]() + ":" + key
	exists, err := config.GetRedisObject(redisKey, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// remove an instance, Type:$key
func RemoveRedisItem[T any](key string) error {
	redisKey := GetTypeName[T]() + ":" + key
	return config.RemoveRedisKey(redisKey)
}
