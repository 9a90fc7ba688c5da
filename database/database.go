package database

import (
	"log"
	"os"

	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/catalog"
	"seminar-app/internal/domain/mailer"
	"seminar-app/internal/domain/registration"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatal("DB_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	DB = db

	if err := Migrate(DB); err != nil {
		log.Fatal("AutoMigrate error:", err)
	}

	log.Println("Connected and migrated successfully")
}

// Migrate is separate from InitDB so tests can run it against their own handle.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&catalog.Seminar{},
		&catalog.DiscountRule{},
		&registration.Registration{},
		&billing.Payment{},
		&mailer.EmailTask{},
	)
}
