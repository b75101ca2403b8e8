package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
				return err
			}
			statements := []string{
				`ALTER TABLE messages DROP CONSTRAINT IF EXISTS fk_messages_batch`,
				`ALTER TABLE messages ADD CONSTRAINT fk_messages_batch FOREIGN KEY (batch_id) REFERENCES batches (id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_batch_position ON messages (batch_id, position)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_batch_status ON messages (batch_id, status)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_provider_message_id ON messages (provider_message_id) WHERE provider_message_id IS NOT NULL`,
				`ALTER TABLE messages DROP CONSTRAINT IF EXISTS chk_messages_provider_id_sent`,
				`ALTER TABLE messages ADD CONSTRAINT chk_messages_provider_id_sent CHECK ((status = 'SENT') = (provider_message_id IS NOT NULL))`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageModel{})
		},
	}
}
