package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pos_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Store{}, &User{},
		&Brand{}, &Category{}, &Manufacturer{}, &Product{},
		&InventoryRecord{}, &InventoryMovement{},
		&Invoice{}, &InvoiceLine{},
		&IdempotencyRecord{}, &IdempotencyKey{},
		&EventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
