package database

import "messenger/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Chat{},
		&models.ChatMember{},
		&models.Message{},
		&models.MediaFile{},
		&models.Reaction{},
		&models.ReadWatermark{},
	}
}
