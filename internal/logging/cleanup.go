package logging

import (
	"log/slog"
	"time"

	"github.com/glowmorph/backend/internal/models"
	"gorm.io/gorm"
)

const logRetention = 30 * 24 * time.Hour

// StartCleanup deletes system_logs rows older than the retention window once
// a day. Close done to stop the loop.
func StartCleanup(db *gorm.DB, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-logRetention)
				res := db.Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
				if res.Error != nil {
					slog.Error("log cleanup failed", "error", res.Error)
				} else if res.RowsAffected > 0 {
					slog.Info("log cleanup completed", "deleted", res.RowsAffected)
				}
			case <-done:
				return
			}
		}
	}()
}
