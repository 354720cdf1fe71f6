package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"light-mint-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoringServiceClient_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/score", r.URL.Path)
		assert.Equal(t, "svc", r.Header.Get("X-Service-Token"))
		var in ScoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, models.ActionComment, in.ActionType)
		_, _ = w.Write([]byte(`{"quality_score":0.9,"multiplier":1.5,"light_score":42,"is_eligible":true}`))
	}))
	defer srv.Close()

	c := NewScoringServiceClient(srv.URL, "svc", time.Second)
	out, err := c.Score(context.Background(), ScoreRequest{UserID: "u1", ActionType: models.ActionComment, ReferenceID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.LightScore)
	assert.True(t, out.IsEligible)
	assert.Equal(t, 1.5, out.Multiplier)
}

func TestScoringServiceClient_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewScoringServiceClient(srv.URL, "svc", time.Second)
	_, err := c.Score(context.Background(), ScoreRequest{UserID: "u1", ActionType: models.ActionPost, ReferenceID: "p1"})
	assert.Error(t, err)
}
