// services/scoring_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"light-mint-service/models"

	log "github.com/sirupsen/logrus"
)

// ScoreRequest is what the scoring service needs to rate one action.
type ScoreRequest struct {
	UserID      string            `json:"user_id"`
	ActionType  models.ActionType `json:"action_type"`
	ReferenceID string            `json:"reference_id"`
	Content     string            `json:"content,omitempty"`
}

// ActionScore is the scoring service's verdict, stored as-is.
type ActionScore struct {
	QualityScore   float64 `json:"quality_score"`
	ImpactScore    float64 `json:"impact_score"`
	IntegrityScore float64 `json:"integrity_score"`
	UnityScore     float64 `json:"unity_score"`
	Multiplier     float64 `json:"multiplier"`
	LightScore     int64   `json:"light_score"`
	IsEligible     bool    `json:"is_eligible"`
}

// ActionScorer rates user actions. The scoring function itself is owned
// by another service.
type ActionScorer interface {
	Score(ctx context.Context, req ScoreRequest) (*ActionScore, error)
}

type ScoringServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewScoringServiceClient(baseURL, token string, timeout time.Duration) *ScoringServiceClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ScoringServiceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Score calls POST /v1/score on the scoring service.
func (c *ScoringServiceClient) Score(ctx context.Context, in ScoreRequest) (*ActionScore, error) {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/score", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		log.Printf("[SCORING] /v1/score returned %d: %.256s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("scoring failed: %d", resp.StatusCode)
	}

	var out ActionScore
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode score: %w", err)
	}
	if out.LightScore < 0 {
		return nil, fmt.Errorf("scoring returned negative light_score %d", out.LightScore)
	}
	return &out, nil
}
