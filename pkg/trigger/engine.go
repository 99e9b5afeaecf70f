// Package trigger implements the Trigger Engine (spec §4.10): event
// triggers fan an externally published event out to every matching
// JobTrigger row, and schedule triggers fire on their own cron
// expression. Schedule evaluation is grounded on the cron idiom
// AMD-AGI-Primus-SaFE/Lens/modules/jobs and control-plane-controller's
// pkg/jobs/runner.go use (robfig/cron/v3), adapted from their
// compile-time cron.New()+AddFunc job registration into a
// Schedule.Next()-driven evaluator, since this domain's schedules are
// rows a tenant edits at runtime rather than jobs wired at startup.
package trigger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"github.com/nrhinela/zoltag-sub001/pkg/payload"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// maxCatchUpFiresPerTick bounds how many missed schedule fires one
// tick will insert for a single trigger, so a trigger whose cron
// expression fires more often than ScheduleInterval (or an engine that
// was down for a long time) can't flood the queue in one sweep.
const maxCatchUpFiresPerTick = 50

// Engine evaluates schedule triggers on a ticker and fans out
// published events to matching event triggers.
type Engine struct {
	db    *gorm.DB
	queue *database.QueueFacade
	cfg   config.TriggerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastChecked map[uuid.UUID]time.Time
}

func NewEngine(db *gorm.DB, queue *database.QueueFacade, cfg config.TriggerConfig) *Engine {
	return &Engine{
		db:          db,
		queue:       queue,
		cfg:         cfg,
		lastChecked: make(map[uuid.UUID]time.Time),
	}
}

// Start begins the schedule-trigger evaluation loop. Event triggers
// need no loop of their own; they fire synchronously from PublishEvent.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.scheduleLoop()
}

func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) scheduleLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunScheduleTick(e.ctx); err != nil {
				log.Errorf("schedule trigger tick failed: %v", err)
			}
		}
	}
}

// RunScheduleTick evaluates every enabled schedule trigger once; tests
// call it directly instead of waiting on the ticker.
func (e *Engine) RunScheduleTick(ctx context.Context) (int, error) {
	var triggers []model.JobTrigger
	err := e.db.WithContext(ctx).
		Where("is_enabled = ? AND trigger_type = ?", true, constant.TriggerTypeSchedule).
		Find(&triggers).Error
	if err != nil {
		return 0, fmt.Errorf("list schedule triggers: %w", err)
	}

	now := time.Now().UTC()
	fired := 0
	for _, trig := range triggers {
		n, err := e.fireDueSchedules(ctx, trig, now)
		if err != nil {
			log.Errorf("schedule trigger %s evaluation failed: %v", trig.ID, err)
			continue
		}
		fired += n
	}
	return fired, nil
}

// fireDueSchedules advances this trigger's fire cursor from its last
// checked time up to now, inserting one Job per missed fire (bounded by
// maxCatchUpFiresPerTick). The cursor is held in memory rather than
// persisted on the trigger row: the dedup key derived from
// (trigger_id, fire_timestamp) is what actually prevents double-firing
// across engine replicas or restarts, exactly as spec §4.10 describes.
func (e *Engine) fireDueSchedules(ctx context.Context, trig model.JobTrigger, now time.Time) (int, error) {
	if trig.CronExpr == nil || *trig.CronExpr == "" {
		return 0, fmt.Errorf("schedule trigger has no cron_expr")
	}

	loc := time.UTC
	if trig.Timezone != nil && *trig.Timezone != "" {
		l, err := time.LoadLocation(*trig.Timezone)
		if err != nil {
			return 0, fmt.Errorf("load timezone %q: %w", *trig.Timezone, err)
		}
		loc = l
	}

	sched, err := cron.ParseStandard(*trig.CronExpr)
	if err != nil {
		return 0, fmt.Errorf("parse cron expression %q: %w", *trig.CronExpr, err)
	}

	e.mu.Lock()
	cursor, ok := e.lastChecked[trig.ID]
	e.mu.Unlock()
	if !ok {
		cursor = now.Add(-e.cfg.ScheduleInterval)
	}

	fired := 0
	capped := false
	for {
		next := sched.Next(cursor.In(loc))
		if next.After(now) {
			break
		}
		if fired == maxCatchUpFiresPerTick {
			capped = true
			break
		}
		if err := e.insertScheduleJob(ctx, trig, next); err != nil && !errors.Is(err, database.ErrDedupConflict) {
			return fired, err
		}
		fired++
		cursor = next
	}

	// If the cap was hit before the cursor caught up to now, advancing
	// lastChecked to now would silently drop every fire between cursor
	// and now — they'd never be retried on the next tick. Park the
	// cursor where catch-up actually stopped instead, so the next tick
	// picks up right after it.
	checkpoint := now
	if capped {
		checkpoint = cursor
		log.Warnf("schedule trigger %s hit catch-up cap (%d fires); deferring fires after %s to the next tick",
			trig.ID, maxCatchUpFiresPerTick, cursor.Format(time.RFC3339))
	}

	e.mu.Lock()
	e.lastChecked[trig.ID] = checkpoint
	e.mu.Unlock()
	return fired, nil
}

func (e *Engine) insertScheduleJob(ctx context.Context, trig model.JobTrigger, fireAt time.Time) error {
	sourceRef := fmt.Sprintf("%s:%d", trig.ID, fireAt.Unix())
	dedupeKey := sourceRef
	job := &model.Job{
		TenantID:     trig.TenantID,
		DefinitionID: trig.DefinitionID,
		Source:       constant.JobSourceSchedule,
		SourceRef:    &sourceRef,
		Payload:      trig.PayloadTemplate,
		DedupeKey:    &dedupeKey,
		CreatedBy:    trig.CreatedBy,
	}
	_, err := e.queue.InsertJob(ctx, job)
	return err
}

// PublishEvent fans an event out to every enabled event trigger
// matching (tenantID, eventName), merging each trigger's payload
// template with eventPayload (eventPayload wins on key conflict) and
// deduping on a hash of the merged payload. It returns how many
// triggers actually inserted a new job (as opposed to hitting a dedup
// conflict or a validation failure).
func (e *Engine) PublishEvent(ctx context.Context, tenantID uuid.UUID, eventName string, eventPayload map[string]interface{}) (int, error) {
	var triggers []model.JobTrigger
	err := e.db.WithContext(ctx).
		Where("tenant_id = ? AND is_enabled = ? AND trigger_type = ? AND event_name = ?",
			tenantID, true, constant.TriggerTypeEvent, eventName).
		Find(&triggers).Error
	if err != nil {
		return 0, fmt.Errorf("list event triggers: %w", err)
	}

	eventID := uuid.NewString()
	fired := 0
	for _, trig := range triggers {
		if err := e.fireEvent(ctx, trig, eventID, eventPayload); err != nil {
			if errors.Is(err, database.ErrDedupConflict) {
				continue
			}
			log.Errorf("event trigger %s failed: %v", trig.ID, err)
			continue
		}
		fired++
	}
	return fired, nil
}

func (e *Engine) fireEvent(ctx context.Context, trig model.JobTrigger, eventID string, eventPayload map[string]interface{}) error {
	var template map[string]interface{}
	if err := trig.PayloadTemplate.UnmarshalTo(&template); err != nil {
		return fmt.Errorf("decode payload template: %w", err)
	}
	if template == nil {
		template = map[string]interface{}{}
	}
	merged := mergePayload(template, eventPayload)

	canon, err := payload.CanonicalJSON(merged)
	if err != nil {
		return fmt.Errorf("encode merged payload: %w", err)
	}
	sum := sha256.Sum256(canon)
	dedupeKey := fmt.Sprintf("trigger:%s:%s", trig.ID, hex.EncodeToString(sum[:8]))

	job := &model.Job{
		TenantID:      trig.TenantID,
		DefinitionID:  trig.DefinitionID,
		Source:        constant.JobSourceEvent,
		SourceRef:     &eventID,
		Payload:       model.ExtJSON(canon),
		DedupeKey:     &dedupeKey,
		CorrelationID: &eventID,
		CreatedBy:     trig.CreatedBy,
	}
	_, err = e.queue.InsertJob(ctx, job)
	return err
}

func mergePayload(template, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(template)+len(overlay))
	for k, v := range template {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
