package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"light-mint-service/chain"
	"light-mint-service/models"
	"light-mint-service/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	walletA  = "0x1111111111111111111111111111111111111111"
	walletB  = "0x3333333333333333333333333333333333333333"
	contract = "0x2222222222222222222222222222222222222222"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

type stubScorer struct{ score int64 }

func (s stubScorer) Score(ctx context.Context, req services.ScoreRequest) (*services.ActionScore, error) {
	return &services.ActionScore{LightScore: s.score, Multiplier: 1, IsEligible: true}, nil
}

type testApp struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db := newTestDB(t)
	audit := services.NewAuditLogger(db)
	epochs := services.NewEpochLedger(db, 1000)
	orch := services.NewMintOrchestrator(db, epochs, nil, nil, audit, services.MintConfig{
		Domain:    chain.Domain{Name: "LightToken", Version: "1", ChainID: 97, VerifyingContract: contract},
		Decimals:  18,
		Signers:   []string{walletA, walletB},
		Threshold: 2,
	})

	app := fiber.New()
	SetupScoreRoutes(app, services.NewScoreAggregator(db), services.NewLightLedger(db, stubScorer{score: 40}, time.Second), services.NewFraudDetector(db, 0))
	SetupMintRoutes(app, orch, services.NewClaimService(db, nil, audit, 18), services.NewMintEventStream(db), nil)
	SetupAdminRoutes(app, AdminDeps{
		DB:          db,
		Orch:        orch,
		Ledger:      epochs,
		Containment: services.NewContainmentService(db, epochs, audit, nil, nil),
		Audit:       audit,
	})
	return &testApp{app: app, db: db}
}

func (a *testApp) do(t *testing.T, method, path, user, roles, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func seedMintable(t *testing.T, db *gorm.DB, userID string, score int64) *models.LightAction {
	t.Helper()
	w := walletA
	require.NoError(t, db.Create(&models.Profile{UserID: userID, Username: userID, WalletAddress: &w}).Error)
	a := &models.LightAction{
		ActorID:     userID,
		ActionType:  models.ActionPost,
		ReferenceID: uuid.NewString(),
		LightScore:  score,
		IsEligible:  true,
		Multiplier:  1,
		ActionDate:  time.Now().UTC().Format(models.DateLayout),
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func TestRespondError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrUnauthorized, http.StatusUnauthorized},
		{&services.ValidationError{Field: "amount", Message: "bad"}, http.StatusBadRequest},
		{&services.CapacityError{Scope: "epoch", Remaining: 0}, http.StatusTooManyRequests},
		{&services.StateConflictError{Status: models.MintSigned}, http.StatusConflict},
		{&services.FraudGateError{UserID: "u1", Reason: services.ErrAccountBanned}, http.StatusForbidden},
		{&services.ExternalDependencyError{Service: "relay", Err: errors.New("down")}, http.StatusBadGateway},
		{&services.ExternalDependencyError{Service: "relay", Timeout: true, Err: errors.New("slow")}, http.StatusGatewayTimeout},
		{services.ErrNoWallet, http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", services.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		app := fiber.New()
		err := tc.err
		app.Get("/", func(c *fiber.Ctx) error { return respondError(c, err) })
		resp, e := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, e)
		assert.Equal(t, tc.status, resp.StatusCode, tc.err.Error())
	}
}

func TestScoreRoutes(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodPost, "/user/light-actions", "", "", `{"action_type":"post","reference_id":"p1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := a.do(t, http.MethodPost, "/user/light-actions", "u1", "", `{"reference_id":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "action_type", body["field"])

	status, _ = a.do(t, http.MethodPost, "/user/light-actions", "u1", "", `{"action_type":"post","reference_id":"p1"}`)
	assert.Equal(t, http.StatusCreated, status)
	status, body = a.do(t, http.MethodPost, "/user/light-actions", "u1", "", `{"action_type":"post","reference_id":"p1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["existing"])

	status, body = a.do(t, http.MethodGet, "/user/light-score", "u1", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 40, body["total_score"])
}

func TestInternalLogins(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodPost, "/internal/logins", "", "", `{"ip_address":"1.2.3.4"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = a.do(t, http.MethodPost, "/internal/logins", "", "", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodPost, "/internal/logins", "", "", `{"user_id":"u1","ip_address":"1.2.3.4","user_agent":"Mozilla"}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Eventually(t, func() bool {
		var n int64
		a.db.Model(&models.LoginEvent{}).Where("user_id = ?", "u1").Count(&n)
		return n == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMintRoutes_CreateAndSignerAccess(t *testing.T) {
	a := newTestApp(t)
	act := seedMintable(t, a.db, "u1", 40)

	status, body := a.do(t, http.MethodPost, "/mint/requests", "u1", "", `{"action_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodPost, "/mint/requests", "u1", "", `{"action_ids":["`+act.ID+`"]}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(models.MintPendingSig), body["status"])
	assert.EqualValues(t, 40, body["requested_amount"])
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	status, _ = a.do(t, http.MethodGet, "/mint/requests/"+id, "u1", "", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, http.MethodGet, "/mint/requests/"+id, "u2", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = a.do(t, http.MethodGet, "/mint/requests/"+id, "signer-1", "mint_signer", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodGet, "/mint/requests/"+id+"/payload", "u1", "", "")
	assert.Equal(t, http.StatusForbidden, status)
	status, body = a.do(t, http.MethodGet, "/mint/requests/"+id+"/payload", "signer-1", "mint_signer", "")
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["digest"])

	status, _ = a.do(t, http.MethodPost, "/mint/requests/"+id+"/signatures", "signer-1", "mint_signer", `{"signature":"0x1234"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodGet, "/mint/requests", "u1", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["active"], 1)
}

func TestMintRoutes_NoWallet(t *testing.T) {
	a := newTestApp(t)
	status, _ := a.do(t, http.MethodPost, "/mint/requests", "ghost", "", `{"action_ids":["x"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = a.do(t, http.MethodGet, "/user/wallet/balance", "ghost", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestAdminRoutes_BanBlocksMinting(t *testing.T) {
	a := newTestApp(t)
	act := seedMintable(t, a.db, "u1", 40)

	status, _ := a.do(t, http.MethodPost, "/admin/users/ban", "u9", "", `{"user_ids":["u1"],"reason":"x"}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(t, http.MethodPost, "/mint/requests", "u1", "", `{"action_ids":["`+act.ID+`"]}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := a.do(t, http.MethodPost, "/admin/users/ban", "admin-1", "admin", `{"user_ids":["u1"],"reason":"sybil"}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["succeeded"])
	assert.Equal(t, []interface{}{"u1"}, body["banned"])
	assert.EqualValues(t, 1, body["wallets_blacklisted"])
	assert.EqualValues(t, 1, body["mint_rejected"])
	assert.Equal(t, []interface{}{}, body["errors"])
	require.Len(t, body["results"], 1)

	status, _ = a.do(t, http.MethodPost, "/mint/requests", "u1", "", `{"action_ids":["`+act.ID+`"]}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(t, http.MethodGet, "/admin/users/u1/gate", "admin-1", "admin", "")
	assert.Equal(t, http.StatusForbidden, status)

	status, body = a.do(t, http.MethodGet, "/admin/fraud/signals?user_id=u1", "admin-1", "admin", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = a.do(t, http.MethodGet, "/admin/audit?user_id=u1", "admin-1", "admin", "")
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["entries"])

	status, _ = a.do(t, http.MethodPost, "/admin/users/u1/unfreeze", "admin-1", "admin", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestAdminRoutes_Wallets(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodDelete, "/admin/wallets/blacklist/"+walletB, "admin-1", "admin", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := a.do(t, http.MethodPost, "/admin/wallets/blacklist", "admin-1", "admin",
		`{"wallet_address":"`+walletB+`","reason":"phishing"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, walletB, body["wallet_address"])

	status, _ = a.do(t, http.MethodDelete, "/admin/wallets/blacklist/"+walletB, "admin-1", "admin", "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAdminRoutes_EpochCap(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodPut, "/admin/epochs/2025-03-10/cap", "admin-1", "admin", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := a.do(t, http.MethodPut, "/admin/epochs/2025-03-10/cap", "admin-1", "admin", `{"cap":250}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 250, body["total_cap"])

	status, body = a.do(t, http.MethodGet, "/admin/epochs/2025-03-10", "admin-1", "admin", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 250, body["total_cap"])

	var entry models.AuditLog
	require.NoError(t, a.db.Where("action = ?", "epoch.set_cap").First(&entry).Error)
	assert.True(t, entry.Success)
	assert.Equal(t, "admin-1", entry.ActorID)
}
