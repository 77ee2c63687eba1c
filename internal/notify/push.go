package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// PushNotifier tries a live websocket session first and falls back to an
// HTTP push endpoint. With no endpoint configured, the fallback logs the
// message instead — useful locally.
type PushNotifier struct {
	WS       *WSRegistry
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewPushNotifier(ws *WSRegistry, endpoint string, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		WS:       ws,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (p *PushNotifier) Notify(ctx context.Context, m Message) error {
	if p.WS != nil {
		if err := p.WS.Send(m); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		p.Logger.Info("notification", "kind", m.Kind, "contact_id", m.ContactID, "body", m.Body)
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
