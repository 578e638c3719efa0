package license

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/gen"
	"licensing-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	node, err := gen.NewSnowflakeNode()
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:      db,
		Node:    node,
		Auditor: NewAuditor(db, node),
	})
	return svc, db
}

func seedPlan(t *testing.T, db *gorm.DB, name string, durationType DurationType, durationValue, maxDevices int) *Plan {
	t.Helper()

	plan := &Plan{
		PlanID:        "plan_" + name,
		Name:          name,
		DurationType:  durationType,
		DurationValue: durationValue,
		MaxDevices:    maxDevices,
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func seedLicense(t *testing.T, db *gorm.DB, plan *Plan, key string, status LicenseStatus) *License {
	t.Helper()

	lic := &License{
		LicenseID:  "lic_" + key,
		LicenseKey: key,
		PlanID:     plan.PlanID,
		Status:     status,
		MaxDevices: plan.MaxDevices,
	}
	require.NoError(t, db.Create(lic).Error)
	return lic
}

func auditRows(t *testing.T, db *gorm.DB, action UsageAction) []UsageLog {
	t.Helper()

	var logs []UsageLog
	require.NoError(t, db.Where("action = ?", action).Order("created_at").Find(&logs).Error)
	return logs
}

func TestActivateFirstUseStartsClock(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "two-week", DurationDays, 14, 1)
	seedLicense(t, db, plan, "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE", StatusInactive)

	res, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "aaaaa-bbbbb-ccccc-ddddd-eeeee ", // normalized on the way in
		HWID:       "hwid-1",
		DeviceName: "workstation",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, res.License.Status)
	require.Equal(t, int64(1), res.License.ActiveDevices)
	require.Equal(t, ActivationActive, res.Activation.Status)

	var stored License
	require.NoError(t, db.Where("license_key = ?", "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE").First(&stored).Error)
	require.Equal(t, StatusActive, stored.Status)
	require.NotNil(t, stored.ActivatedAt)
	require.NotNil(t, stored.ExpiresAt)
	require.WithinDuration(t, stored.ActivatedAt.AddDate(0, 0, 14), *stored.ExpiresAt, time.Second)
	require.Equal(t, 1, stored.TotalActivations)

	logs := auditRows(t, db, ActionActivate)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
}

func TestActivateSameDeviceIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "single", DurationDays, 30, 1)
	seedLicense(t, db, plan, "KEYAA-KEYBB-KEYCC-KEYDD-KEYEE", StatusInactive)

	first, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "KEYAA-KEYBB-KEYCC-KEYDD-KEYEE",
		HWID:       "hwid-1",
	})
	require.NoError(t, err)

	second, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "KEYAA-KEYBB-KEYCC-KEYDD-KEYEE",
		HWID:       "hwid-1",
	})
	require.NoError(t, err)
	require.Equal(t, first.Activation.ActivationID, second.Activation.ActivationID)
	require.Equal(t, int64(1), second.License.ActiveDevices)

	var stored License
	require.NoError(t, db.Where("license_key = ?", "KEYAA-KEYBB-KEYCC-KEYDD-KEYEE").First(&stored).Error)
	require.Equal(t, 1, stored.TotalActivations)

	// Both attempts leave their own audit row.
	require.Len(t, auditRows(t, db, ActionActivate), 2)
}

func TestActivateDeviceLimit(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "one-seat", DurationDays, 30, 1)
	seedLicense(t, db, plan, "LIMIT-AAAAA-BBBBB-CCCCC-DDDDD", StatusInactive)

	_, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "LIMIT-AAAAA-BBBBB-CCCCC-DDDDD",
		HWID:       "hwid-1",
	})
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "LIMIT-AAAAA-BBBBB-CCCCC-DDDDD",
		HWID:       "hwid-2",
	})
	require.Error(t, err)
	require.Equal(t, errutil.StatusDeviceLimitReached, errutil.CodeOf(err))

	// The failed attempt must not occupy a slot.
	active, err := countActiveActivations(context.Background(), db, "lic_LIMIT-AAAAA-BBBBB-CCCCC-DDDDD")
	require.NoError(t, err)
	require.Equal(t, int64(1), active)

	logs := auditRows(t, db, ActionActivate)
	require.Len(t, logs, 2)
	require.False(t, logs[1].Success)
	require.Equal(t, string(errutil.StatusDeviceLimitReached), logs[1].Detail)
}

func TestDeactivateFreesSlot(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "swap", DurationDays, 30, 1)
	seedLicense(t, db, plan, "SWAPA-SWAPB-SWAPC-SWAPD-SWAPE", StatusInactive)

	ctx := context.Background()
	_, err := svc.Activate(ctx, ActivateRequest{LicenseKey: "SWAPA-SWAPB-SWAPC-SWAPD-SWAPE", HWID: "old-box"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "SWAPA-SWAPB-SWAPC-SWAPD-SWAPE", "old-box", ""))

	res, err := svc.Activate(ctx, ActivateRequest{LicenseKey: "SWAPA-SWAPB-SWAPC-SWAPD-SWAPE", HWID: "new-box"})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.License.ActiveDevices)

	var stored License
	require.NoError(t, db.Where("license_id = ?", "lic_SWAPA-SWAPB-SWAPC-SWAPD-SWAPE").First(&stored).Error)
	require.Equal(t, 2, stored.TotalActivations)
}

func TestDeactivateUnknownDeviceIsNoop(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "noop", DurationDays, 30, 1)
	seedLicense(t, db, plan, "NOOPA-NOOPB-NOOPC-NOOPD-NOOPE", StatusInactive)

	require.NoError(t, svc.Deactivate(context.Background(), "NOOPA-NOOPB-NOOPC-NOOPD-NOOPE", "never-seen", ""))

	logs := auditRows(t, db, ActionDeactivate)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
}

func TestActivateUnknownKey(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "NOSUC-HKEYX-NOSUC-HKEYX-NOSUC",
		HWID:       "hwid-1",
	})
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(err))

	logs := auditRows(t, db, ActionActivate)
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.Empty(t, logs[0].LicenseID)
}

func TestActivateExpiredIsDetectedLazily(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "lapsed", DurationDays, 30, 2)
	lic := seedLicense(t, db, plan, "LAPSE-LAPSE-LAPSE-LAPSE-LAPSE", StatusActive)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(lic).Updates(map[string]any{
		"activated_at": past.Add(-24 * time.Hour),
		"expires_at":   past,
	}).Error)

	_, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "LAPSE-LAPSE-LAPSE-LAPSE-LAPSE",
		HWID:       "hwid-1",
	})
	require.Error(t, err)
	require.Equal(t, errutil.StatusLicenseExpired, errutil.CodeOf(err))

	// The mutating touch persisted the derived status.
	var stored License
	require.NoError(t, db.Where("license_id = ?", lic.LicenseID).First(&stored).Error)
	require.Equal(t, StatusExpired, stored.Status)
}

func TestActivateDeniedStatuses(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "denied", DurationDays, 30, 1)

	cases := map[LicenseStatus]errutil.CoreStatus{
		StatusRevoked:   errutil.StatusLicenseRevoked,
		StatusBanned:    errutil.StatusLicenseBanned,
		StatusSuspended: errutil.StatusLicenseSuspended,
	}

	i := 0
	for status, code := range cases {
		key := "DENYA-DENYB-DENYC-DENYD-DENY" + string(rune('A'+i))
		seedLicense(t, db, plan, key, status)
		i++

		_, err := svc.Activate(context.Background(), ActivateRequest{LicenseKey: key, HWID: "hwid-1"})
		require.Error(t, err)
		require.Equal(t, code, errutil.CodeOf(err))
	}
}

func TestValidate(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "heartbeat", DurationDays, 30, 1)
	seedLicense(t, db, plan, "BEATA-BEATB-BEATC-BEATD-BEATE", StatusInactive)

	ctx := context.Background()

	// Unknown key.
	valid, reason, err := svc.Validate(ctx, "WRONG-WRONG-WRONG-WRONG-WRONG", "hwid-1", "")
	require.NoError(t, err)
	require.False(t, valid)
	require.Equal(t, errutil.StatusNotFound, reason)

	// Known key, device never activated.
	valid, reason, err = svc.Validate(ctx, "BEATA-BEATB-BEATC-BEATD-BEATE", "hwid-1", "")
	require.NoError(t, err)
	require.False(t, valid)
	require.Equal(t, errutil.StatusNotFound, reason)

	_, err = svc.Activate(ctx, ActivateRequest{LicenseKey: "BEATA-BEATB-BEATC-BEATD-BEATE", HWID: "hwid-1"})
	require.NoError(t, err)

	valid, reason, err = svc.Validate(ctx, "BEATA-BEATB-BEATC-BEATD-BEATE", "hwid-1", "")
	require.NoError(t, err)
	require.True(t, valid)
	require.Empty(t, reason)

	// Three validates, one activate, each with its own audit row.
	require.Len(t, auditRows(t, db, ActionValidate), 3)
	require.Len(t, auditRows(t, db, ActionActivate), 1)
}

func TestValidateStorageFailureStillAudited(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "flaky", DurationDays, 30, 1)
	lic := seedLicense(t, db, plan, "FLAKY-FLAKY-FLAKY-FLAKY-FLAKY", StatusActive)

	// Break the activation lookup while usage_logs stays writable.
	require.NoError(t, db.Migrator().DropTable(&Activation{}))

	_, _, err := svc.Validate(context.Background(), "FLAKY-FLAKY-FLAKY-FLAKY-FLAKY", "hwid-1", "10.0.0.9")
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnavailable, errutil.CodeOf(err))

	logs := auditRows(t, db, ActionValidate)
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.Equal(t, lic.LicenseID, logs[0].LicenseID)
	require.Equal(t, "10.0.0.9", logs[0].IPAddress)
	require.Equal(t, string(errutil.StatusUnavailable), logs[0].Detail)
}

func TestValidateLicenseLookupFailureStillAudited(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, db.Migrator().DropTable(&License{}))

	_, _, err := svc.Validate(context.Background(), "GONEA-GONEB-GONEC-GONED-GONEE", "hwid-1", "")
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnavailable, errutil.CodeOf(err))

	logs := auditRows(t, db, ActionValidate)
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.Empty(t, logs[0].LicenseID)
}

func TestValidateExpiredDoesNotWriteStatus(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "readonly", DurationDays, 30, 1)
	lic := seedLicense(t, db, plan, "READA-READB-READC-READD-READE", StatusActive)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(lic).Update("expires_at", past).Error)

	valid, reason, err := svc.Validate(context.Background(), "READA-READB-READC-READD-READE", "hwid-1", "")
	require.NoError(t, err)
	require.False(t, valid)
	require.Equal(t, errutil.StatusLicenseExpired, reason)

	// Heartbeats never correct the cached column.
	var stored License
	require.NoError(t, db.Where("license_id = ?", lic.LicenseID).First(&stored).Error)
	require.Equal(t, StatusActive, stored.Status)
}

func TestResetHWIDFreesAllSlots(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "multi", DurationDays, 30, 2)
	lic := seedLicense(t, db, plan, "MULTI-MULTI-MULTI-MULTI-MULTI", StatusInactive)

	ctx := context.Background()
	for _, hwid := range []string{"hwid-1", "hwid-2"} {
		_, err := svc.Activate(ctx, ActivateRequest{LicenseKey: "MULTI-MULTI-MULTI-MULTI-MULTI", HWID: hwid})
		require.NoError(t, err)
	}

	require.NoError(t, svc.ResetHWID(ctx, lic.LicenseID, "admin-1"))

	active, err := countActiveActivations(ctx, db, lic.LicenseID)
	require.NoError(t, err)
	require.Zero(t, active)

	// Freed slots are immediately reusable.
	_, err = svc.Activate(ctx, ActivateRequest{LicenseKey: "MULTI-MULTI-MULTI-MULTI-MULTI", HWID: "hwid-3"})
	require.NoError(t, err)

	logs := auditRows(t, db, ActionAdminReset)
	require.Len(t, logs, 1)
	require.Equal(t, "admin-1", logs[0].ActorID)
}

func TestConcurrentActivationsNeverOversellSlots(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "race", DurationDays, 30, 3)
	lic := seedLicense(t, db, plan, "RACEA-RACEB-RACEC-RACED-RACEE", StatusInactive)

	const devices = 8
	results := make(chan error, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Activate(context.Background(), ActivateRequest{
				LicenseKey: "RACEA-RACEB-RACEC-RACED-RACEE",
				HWID:       fmt.Sprintf("hwid-%d", n),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, denied int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.Equal(t, errutil.StatusDeviceLimitReached, errutil.CodeOf(err))
		denied++
	}
	require.Equal(t, 3, ok)
	require.Equal(t, devices-3, denied)

	active, err := countActiveActivations(context.Background(), db, lic.LicenseID)
	require.NoError(t, err)
	require.Equal(t, int64(3), active)

	// Exactly one audit row per attempt, winners and losers alike.
	require.Len(t, auditRows(t, db, ActionActivate), devices)
}

func TestRevokedLicenseRejectsEverything(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "pulled", DurationDays, 30, 2)
	lic := seedLicense(t, db, plan, "PULLA-PULLB-PULLC-PULLD-PULLE", StatusInactive)

	ctx := context.Background()
	_, err := svc.Activate(ctx, ActivateRequest{LicenseKey: "PULLA-PULLB-PULLC-PULLD-PULLE", HWID: "hwid-1"})
	require.NoError(t, err)

	require.NoError(t, db.Model(lic).Update("status", StatusRevoked).Error)

	// The device that already holds a slot loses it at the next heartbeat.
	valid, reason, err := svc.Validate(ctx, "PULLA-PULLB-PULLC-PULLD-PULLE", "hwid-1", "")
	require.NoError(t, err)
	require.False(t, valid)
	require.Equal(t, errutil.StatusLicenseRevoked, reason)

	// And no new device can join, same hwid or not.
	_, err = svc.Activate(ctx, ActivateRequest{LicenseKey: "PULLA-PULLB-PULLC-PULLD-PULLE", HWID: "hwid-1"})
	require.Equal(t, errutil.StatusLicenseRevoked, errutil.CodeOf(err))
	_, err = svc.Activate(ctx, ActivateRequest{LicenseKey: "PULLA-PULLB-PULLC-PULLD-PULLE", HWID: "hwid-2"})
	require.Equal(t, errutil.StatusLicenseRevoked, errutil.CodeOf(err))
}

func TestLifetimePlanNeverExpires(t *testing.T) {
	svc, db := newTestService(t)
	plan := seedPlan(t, db, "forever", DurationLifetime, 0, 1)
	seedLicense(t, db, plan, "EVERA-EVERB-EVERC-EVERD-EVERE", StatusInactive)

	res, err := svc.Activate(context.Background(), ActivateRequest{
		LicenseKey: "EVERA-EVERB-EVERC-EVERD-EVERE",
		HWID:       "hwid-1",
	})
	require.NoError(t, err)
	require.Nil(t, res.License.ExpiresAt)
}
