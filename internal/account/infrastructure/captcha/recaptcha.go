package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
)

const (
	verifyURL = "https://www.google.com/recaptcha/api/siteverify"

	// v3 responses carry a risk score; anything below this is treated as
	// automated traffic.
	scoreThreshold = 0.6
)

// Config holds reCAPTCHA settings. An empty Secret puts the verifier in
// pass-through mode for local development.
type Config struct {
	Secret string
}

// RecaptchaVerifier checks signup challenge responses against the Google
// siteverify endpoint.
type RecaptchaVerifier struct {
	cfg      Config
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewRecaptchaVerifier creates a new RecaptchaVerifier.
func NewRecaptchaVerifier(cfg Config, logger *slog.Logger) *RecaptchaVerifier {
	return &RecaptchaVerifier{
		cfg:      cfg,
		endpoint: verifyURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the challenge response to siteverify. A missing or low score
// fails the check the same way an outright rejection does.
func (v *RecaptchaVerifier) Verify(ctx context.Context, response string) error {
	if v.cfg.Secret == "" {
		v.logger.Info("captcha check skipped, no recaptcha secret configured")
		return nil
	}

	form := url.Values{
		"secret":   {v.cfg.Secret},
		"response": {response},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("siteverify returned %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding siteverify response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("%w: %s", domain.ErrCaptchaFailed, strings.Join(result.ErrorCodes, ", "))
	}
	if result.Score == nil || *result.Score < scoreThreshold {
		return fmt.Errorf("%w: score below threshold", domain.ErrCaptchaFailed)
	}
	return nil
}
