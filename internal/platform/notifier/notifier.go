package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/eventora/treasury/pkg/config"
)

// SaleNotification informs an organization owner of a new sale.
type SaleNotification struct {
	OrgID       string `json:"org_id"`
	PaymentID   string `json:"payment_id"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	Currency    string `json:"currency"`
	AmountCents int64  `json:"amount_cents"`
}

// Notifier delivers organization-owner notifications. Delivery is
// fire-and-forget: callers log failures and never roll back financial
// state over them.
type Notifier interface {
	NotifySale(ctx context.Context, n *SaleNotification) error
}

// HTTPNotifier posts notifications to a configured internal endpoint.
// With no URL configured it degrades to a log-only notifier.
type HTTPNotifier struct {
	url    string
	client *http.Client
	log    *zap.SugaredLogger
}

func New(cfg *cfgpkg.Config, log *zap.SugaredLogger) Notifier {
	timeout := cfg.Notifier.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		url:    cfg.Notifier.URL,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (n *HTTPNotifier) NotifySale(ctx context.Context, sale *SaleNotification) error {
	if sale == nil {
		return nil
	}
	if n.url == "" {
		n.log.Infow("sale_notification",
			"org_id", sale.OrgID,
			"payment_id", sale.PaymentID,
			"amount_cents", sale.AmountCents,
			"currency", sale.Currency,
		)
		return nil
	}

	body, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier endpoint returned %d", resp.StatusCode)
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(New),
)
