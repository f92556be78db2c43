package models

import (
	"log"

	"github.com/mmdatafocus/load_validator/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&LoadRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
