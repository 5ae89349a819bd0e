package notifications

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // App bundle ID
	Production bool   // Use production environment
}

// Enabled reports whether every field needed for token auth is set.
func (c APNsConfig) Enabled() bool {
	return c.KeyPath != "" && c.KeyID != "" && c.TeamID != "" && c.BundleID != ""
}

type pusher interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient sends push notifications via Apple Push Notification service
type APNsClient struct {
	client   pusher
	bundleID string
	logger   *log.Logger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. It returns nil, nil when the
// configuration is incomplete; a nil client drops every notification.
func NewAPNsClient(cfg APNsConfig, logger *log.Logger) (*APNsClient, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if !cfg.Enabled() {
		logger.Println("apns: missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(authToken).Development()
	if cfg.Production {
		client = client.Production()
	}

	logger.Printf("apns: client initialized (production=%v, bundle=%s)", cfg.Production, cfg.BundleID)
	return newAPNsClient(client, cfg.BundleID, logger), nil
}

func newAPNsClient(p pusher, bundleID string, logger *log.Logger) *APNsClient {
	return &APNsClient{client: p, bundleID: bundleID, logger: logger}
}

// FeedbackNotification is the data shown when a coaching report is ready.
type FeedbackNotification struct {
	SessionID    string
	ScenarioName string
	OverallScore int
	TopTip       string
}

func (n FeedbackNotification) title() string {
	if n.ScenarioName == "" {
		return "Your feedback is ready"
	}
	return fmt.Sprintf("Feedback ready: %s", n.ScenarioName)
}

func (n FeedbackNotification) body() string {
	if n.TopTip == "" {
		return fmt.Sprintf("Overall score %d/100.", n.OverallScore)
	}
	return fmt.Sprintf("Overall score %d/100. %s", n.OverallScore, n.TopTip)
}

// SendFeedbackNotification tells a device that a session report is ready.
func (c *APNsClient) SendFeedbackNotification(deviceToken string, notif FeedbackNotification) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle(notif.title()).
		AlertBody(notif.body()).
		Sound("default").
		Custom("session_id", notif.SessionID).
		Custom("overall_score", notif.OverallScore)

	return c.push(deviceToken, p, 24*time.Hour)
}

// SendTestNotification sends a test notification
func (c *APNsClient) SendTestNotification(deviceToken, message string) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle("Voice Coach Test").
		AlertBody(message).
		Sound("default")

	return c.push(deviceToken, p, time.Hour)
}

func (c *APNsClient) push(deviceToken string, p *payload.Payload, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Expiration:  time.Now().Add(ttl),
	}

	res, err := c.client.Push(notification)
	if err != nil {
		c.logger.Printf("apns: failed to send notification: %v", err)
		return err
	}

	if res.StatusCode != 200 {
		c.logger.Printf("apns: notification rejected (status=%d, reason=%s)", res.StatusCode, res.Reason)
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	c.logger.Printf("apns: notification sent to %s...", tokenPrefix(deviceToken))
	return nil
}

func tokenPrefix(deviceToken string) string {
	if len(deviceToken) > 16 {
		return deviceToken[:16]
	}
	return deviceToken
}
