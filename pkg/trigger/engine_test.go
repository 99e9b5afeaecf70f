package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestEngine_PublishEventFansOutToMatchingTriggers(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "on-upload", MaxAttempts: 3, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	tenantID := uuid.New()
	trig := model.JobTrigger{
		TenantID:    tenantID,
		Label:       "new asset uploaded",
		IsEnabled:   true,
		TriggerType: constant.TriggerTypeEvent,
		EventName:   strPtr("asset.uploaded"),
		DefinitionID: def.ID,
		PayloadTemplate: model.ExtJSON(`{"priority_hint":"normal"}`),
	}
	require.NoError(t, h.DB.Create(&trig).Error)

	queue := database.NewQueueFacade(h.DB)
	e := NewEngine(h.DB, queue, config.TriggerConfig{ScheduleInterval: time.Minute})

	ctx := context.Background()
	fired, err := e.PublishEvent(ctx, tenantID, "asset.uploaded", map[string]interface{}{"asset_id": "abc123"})
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	var jobs []model.Job
	require.NoError(t, h.DB.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, constant.JobSourceEvent, jobs[0].Source)
	require.Equal(t, def.ID, jobs[0].DefinitionID)

	// Re-publishing the identical payload hits the dedup window and fires nothing new.
	fired, err = e.PublishEvent(ctx, tenantID, "asset.uploaded", map[string]interface{}{"asset_id": "abc123"})
	require.NoError(t, err)
	require.Equal(t, 0, fired)

	require.NoError(t, h.DB.Find(&jobs).Error)
	require.Len(t, jobs, 1)
}

func TestEngine_PublishEventIgnoresOtherTenantsAndEventNames(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "on-upload", MaxAttempts: 3, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	tenantID := uuid.New()
	trig := model.JobTrigger{
		TenantID:     tenantID,
		Label:        "scoped",
		IsEnabled:    true,
		TriggerType:  constant.TriggerTypeEvent,
		EventName:    strPtr("asset.uploaded"),
		DefinitionID: def.ID,
	}
	require.NoError(t, h.DB.Create(&trig).Error)

	queue := database.NewQueueFacade(h.DB)
	e := NewEngine(h.DB, queue, config.TriggerConfig{ScheduleInterval: time.Minute})
	ctx := context.Background()

	fired, err := e.PublishEvent(ctx, uuid.New(), "asset.uploaded", nil)
	require.NoError(t, err)
	require.Equal(t, 0, fired)

	fired, err = e.PublishEvent(ctx, tenantID, "asset.deleted", nil)
	require.NoError(t, err)
	require.Equal(t, 0, fired)
}

func TestEngine_RunScheduleTickFiresDueCronTriggerOnce(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "nightly-sync", MaxAttempts: 3, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	trig := model.JobTrigger{
		TenantID:     uuid.New(),
		Label:        "every minute",
		IsEnabled:    true,
		TriggerType:  constant.TriggerTypeSchedule,
		CronExpr:     strPtr("* * * * *"),
		DefinitionID: def.ID,
	}
	require.NoError(t, h.DB.Create(&trig).Error)

	queue := database.NewQueueFacade(h.DB)
	e := NewEngine(h.DB, queue, config.TriggerConfig{ScheduleInterval: time.Minute})

	// Seed the cursor one second before the current minute boundary, so
	// exactly one fire (that boundary) is due by "now".
	e.lastChecked[trig.ID] = time.Now().UTC().Truncate(time.Minute).Add(-time.Second)

	fired, err := e.RunScheduleTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	var jobs []model.Job
	require.NoError(t, h.DB.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, constant.JobSourceSchedule, jobs[0].Source)

	// A second tick immediately after finds nothing newly due.
	fired, err = e.RunScheduleTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, fired)
}

func TestEngine_DisabledTriggerNeverFires(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "nightly-sync", MaxAttempts: 3, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	trig := model.JobTrigger{
		TenantID:     uuid.New(),
		Label:        "disabled",
		IsEnabled:    false,
		TriggerType:  constant.TriggerTypeSchedule,
		CronExpr:     strPtr("* * * * *"),
		DefinitionID: def.ID,
	}
	require.NoError(t, h.DB.Create(&trig).Error)

	queue := database.NewQueueFacade(h.DB)
	e := NewEngine(h.DB, queue, config.TriggerConfig{ScheduleInterval: time.Minute})
	fired, err := e.RunScheduleTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, fired)
}

// TestEngine_CatchUpCapParksCursorInsteadOfSkippingAhead covers the
// maxCatchUpFiresPerTick boundary: a trigger whose cursor is far enough
// behind to have more than maxCatchUpFiresPerTick due fires must not
// have lastChecked jump straight to now, or every fire between the cap
// and now would be silently dropped on the next tick.
func TestEngine_CatchUpCapParksCursorInsteadOfSkippingAhead(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "nightly-sync", MaxAttempts: 3, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	trig := model.JobTrigger{
		TenantID:     uuid.New(),
		Label:        "every minute",
		IsEnabled:    true,
		TriggerType:  constant.TriggerTypeSchedule,
		CronExpr:     strPtr("* * * * *"),
		DefinitionID: def.ID,
	}
	require.NoError(t, h.DB.Create(&trig).Error)

	queue := database.NewQueueFacade(h.DB)
	e := NewEngine(h.DB, queue, config.TriggerConfig{ScheduleInterval: time.Minute})

	// 90 minutes of missed one-a-minute fires, far past the 50-fire cap.
	start := time.Now().UTC().Add(-90 * time.Minute)
	e.lastChecked[trig.ID] = start

	fired, err := e.RunScheduleTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, maxCatchUpFiresPerTick, fired)

	e.mu.Lock()
	checkpoint := e.lastChecked[trig.ID]
	e.mu.Unlock()

	// The cursor must have advanced (work happened) but must stop at the
	// last fire actually inserted, not silently skip to now.
	require.True(t, checkpoint.After(start))
	require.True(t, checkpoint.Before(time.Now().UTC().Add(-30*time.Minute)))

	// The next tick picks up right where the capped tick left off,
	// instead of finding nothing due because lastChecked was now.
	fired, err = e.RunScheduleTick(context.Background())
	require.NoError(t, err)
	require.Greater(t, fired, 0)
}
