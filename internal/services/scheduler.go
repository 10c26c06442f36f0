package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// MaintenanceScheduler runs the periodic sweeps: expired-token cleanup and
// audit-log retention. Each run takes a db-backed lock first so only one
// instance performs the sweep when several replicas share a database.
type MaintenanceScheduler struct {
	db            *gorm.DB
	refreshSvc    *RefreshTokenService
	audit         *AuditService
	queue         TaskQueue
	cronScheduler *cron.Cron
	instanceID    string
	log           zerolog.Logger
}

func NewMaintenanceScheduler(db *gorm.DB, refreshSvc *RefreshTokenService, audit *AuditService, queue TaskQueue) *MaintenanceScheduler {
	host, _ := os.Hostname()
	return &MaintenanceScheduler{
		db:         db,
		refreshSvc: refreshSvc,
		audit:      audit,
		queue:      queue,
		instanceID: fmt.Sprintf("%s-%d", host, os.Getpid()),
		log:        logger.With("scheduler"),
	}
}

func (s *MaintenanceScheduler) Start() {
	s.cronScheduler = cron.New()

	// Token sweep hourly; enqueued so an async deployment runs it on a worker.
	s.cronScheduler.AddFunc("0 * * * *", func() {
		if !s.acquireLock("token_cleanup", time.Now().Format("2006-01-02T15"), time.Hour) {
			return
		}
		if err := s.queue.EnqueueTokenCleanup(); err != nil {
			s.log.Error().Err(err).Msg("failed to enqueue token cleanup")
		}
	})

	// Audit retention daily at 03:30.
	s.cronScheduler.AddFunc("30 3 * * *", func() {
		if !s.acquireLock("audit_retention", time.Now().Format("2006-01-02"), 24*time.Hour) {
			return
		}
		s.RunAuditRetention()
	})

	s.cronScheduler.Start()
	s.log.Info().Msg("maintenance scheduler started")
}

func (s *MaintenanceScheduler) Stop() {
	if s.cronScheduler != nil {
		s.cronScheduler.Stop()
	}
}

// RunTokenCleanup performs one sweep of the refresh-token table.
func (s *MaintenanceScheduler) RunTokenCleanup() error {
	deleted, err := s.refreshSvc.CleanupExpired()
	if err != nil {
		s.log.Error().Err(err).Msg("token cleanup failed")
		return err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Msg("cleaned up expired refresh tokens")
	}
	return nil
}

// RunAuditRetention deletes audit rows past the configured retention.
func (s *MaintenanceScheduler) RunAuditRetention() {
	configSvc := NewSystemConfigService(s.db)
	days, err := strconv.Atoi(configSvc.GetWithDefault("audit_retention_days", "90"))
	if err != nil || days <= 0 {
		s.log.Info().Msg("audit retention disabled")
		return
	}

	deleted, err := s.audit.CleanupOld(days)
	if err != nil {
		s.log.Error().Err(err).Msg("audit retention sweep failed")
		return
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Int("retention_days", days).Msg("audit retention sweep complete")
	}
}

// acquireLock takes the named lock for the given key. The (name, key) pair is
// unique, so exactly one instance wins the insert per period; expired rows
// from crashed holders are reclaimed in place.
func (s *MaintenanceScheduler) acquireLock(name, key string, ttl time.Duration) bool {
	now := time.Now()
	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.instanceID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.db.Create(&lock).Error; err == nil {
		return true
	}

	// Row exists; steal it only if the previous holder's lease expired.
	res := s.db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, key, now).
		Updates(map[string]interface{}{
			"locked_by":  s.instanceID,
			"locked_at":  now,
			"expires_at": now.Add(ttl),
		})
	return res.Error == nil && res.RowsAffected > 0
}
